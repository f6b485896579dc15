// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"log/slog"
)

// slogHandler bridges an slog.Handler to one of our Loggers.
type slogHandler struct {
	l Logger
}

var _ slog.Handler = &slogHandler{}

// SetSlogLogger sets up the default logger for the slog package. An
// empty source routes slog output through our default Logger.
func SetSlogLogger(source string) {
	var l Logger

	if source == "" {
		l = Default()
	} else {
		l = log.get(source)
	}

	slog.SetDefault(slog.New(l.SlogHandler()))
}

func (l logger) SlogHandler() slog.Handler {
	return &slogHandler{l: l}
}

// slogLevel maps an slog level to our severity levels. Levels between
// the standard ones map to the next more severe level.
func slogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return LevelDebug
	case level <= slog.LevelInfo:
		return LevelInfo
	case level <= slog.LevelWarn:
		return LevelWarn
	}
	return LevelError
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return log.passes(slogLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	switch slogLevel(r.Level) {
	case LevelDebug:
		h.l.Debug("%s", r.Message)
	case LevelInfo:
		h.l.Info("%s", r.Message)
	case LevelWarn:
		h.l.Warn("%s", r.Message)
	case LevelError:
		h.l.Error("%s", r.Message)
	}
	return nil
}

func (h *slogHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *slogHandler) WithGroup(_ string) slog.Handler {
	return h
}
