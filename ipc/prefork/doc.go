// Package prefork implements the prefork process model of dIPC: the parent
// process binds the listening endpoint once and spawns worker processes that
// inherit the listening descriptor and accept connections on their own loop.
//
// Parent side:
//
//	server := unix.NewUnixServerTransport(config, serializer.NewMsgpackSerializer())
//	m := prefork.NewManager(server, common.PreforkConfig{Workers: 4})
//	if err := m.Start(ctx, []string{exe, "worker"}); err != nil {
//		// ...
//	}
//	defer m.Stop()
//	m.Wait()
//
// Worker side:
//
//	f, ok := prefork.InheritedListener()
//	server := unix.NewUnixServerTransport(config, serializer.NewMsgpackSerializer())
//	err := server.Inherit(f)
//	err = server.PostFork(loop.New(loopConfig), handler)
//
// The listener is passed as the first extra file (fd 3); EnvListenerFD and
// EnvWorkerID tell the worker where to find it and which index it has. Because
// the socket is bound before any worker starts, clients never see a refused
// connection during startup. Every accepted connection belongs to exactly one
// worker for its whole lifetime.
//
// Stop sends SIGTERM to all workers, kills the ones that did not exit within
// PreforkConfig.StopTimeoutSecond and closes the parent's endpoint, which
// removes the socket file.
package prefork
