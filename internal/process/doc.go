// Package process runs worker subprocesses and collects their output.
//
// Start launches a command in its own process group with stdout and stderr
// joined on a single pipe. A Collector reads that pipe line by line and
// appends each non-empty line to a Sink as a log event:
//   - lines are trimmed and parsed for a level by an optional LogParser
//   - lines longer than MaxLineBytes are truncated, the rest is discarded
//   - a read failure becomes one error event and ends collection
//   - if the process exits while a grandchild keeps the pipe open, the
//     read end is closed after DrainWindow
//
// Terminate sends SIGTERM to the group and escalates to SIGKILL after the
// configured stop grace. It never waits; callers watch Finished.
//
//	p, err := process.Start(process.Spec{
//	    ID:        "farm1",
//	    Args:      []string{"python3", "-m", "lokbot", token},
//	    StopGrace: 10 * time.Second,
//	    Output:    process.CollectorOptions{Profile: "farm1", Sink: buffer},
//	})
//	...
//	p.Terminate()
//	<-p.Finished()
package process
