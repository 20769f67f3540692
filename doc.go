// Package minos provides the process-execution core of an embedded kernel:
// isolated process slots with grant-based kernel storage, pluggable
// cooperative and round-robin scheduling, capsule drivers reached through
// syscalls, and a main loop that never trusts userspace.
//
// The hardware surfaces (interrupt controller, MPU, systick, context-switch
// boundary) are contracts in the platform package; platform/hostsim
// implements them in plain memory so boards can be simulated and tested on a
// host.
//
// End-users typically interact with the engine via the high-level Service
// façade exposed by the root package:
//
//	srv, _ := minos.New(minos.WithConfig(cfg))
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	id, _ := rt.LoadApp(ctx, "apps/blink/manifest.yaml")
//	_ = rt.WaitForExit(ctx, id)
//	_ = rt.Shutdown(ctx)
//
// For more details see the README and individual sub-packages.
package minos
