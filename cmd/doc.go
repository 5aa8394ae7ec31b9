// Package cmd implements the command-line interface of dHA. It provides a
// hierarchical command structure for running a reference master and for
// talking to a master as a slave would.
//
// The package is organized into several subpackages:
//
//   - master: Commands sending requests to a master (allocate-ids, reltype,
//     lock, commit, pull, master-id) and a performance test (perf)
//   - serve: Command starting the in-memory reference master
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set with an environment variable DHA_<FLAG> (e.g.
// DHA_MASTER_HOST), .env and .env.local files are loaded on startup.
//
// See dha -help for a list of all commands.
package cmd
