// Package supervisor runs one worker process per profile and keeps the
// stored profile status in line with the live process set.
//
// Per profile the state machine is
//
//	Stopped --Start--> Running --(Stop | worker exit)--> Stopped
//
// Start, Stop, Delete and the exit cleanup of a profile are serialized by a
// per-profile mutex, and the exit cleanup only acts on the instance it was
// started for, so exactly one cleanup happens per run. Every query first
// reaps workers that have already exited, so no caller observes a stale
// Running status.
//
// Stop sends SIGTERM to the worker's process group and returns. If the
// worker is still alive after the stop grace, SIGKILL follows.
package supervisor
