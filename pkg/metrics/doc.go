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

package metrics

// The metrics package provides a simple framework for collecting and
// exporting metrics. It is implemented as a set of thin wrappers around
// prometheus types. These help enforce metrics namespacing, allow metrics
// grouping, provide runtime selection of the collectors to expose, and
// allow periodic polling of computationally expensive metrics which would
// be too costly to produce each time they are externally requested.
//
// Collectors are registered under a name, optionally into a named group.
// A Gatherer then exposes the registered collectors matching a set of
// enabling glob patterns, prefixing metric names with the namespace and
// group unless a collector opts out.
//
// Simple Usage
//
//	package main
//
//	import (
//	    "log"
//	    "net/http"
//	    "os"
//
//	    "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	    "github.com/intel/libmemtier/pkg/metrics"
//	    _ "github.com/intel/libmemtier/pkg/metrics/collectors"
//	)
//
//	func main() {
//	    enabled := []string{"*"}
//	    if len(os.Args) > 1 {
//	        enabled = os.Args[1:]
//	    }
//
//	    g, err := metrics.NewGatherer(
//	        metrics.WithNamespace("memtier"),
//	        metrics.WithMetrics(enabled, nil),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
//	    log.Fatal(http.ListenAndServe(":8891", nil))
//	}
