// Package camera implements the capture orchestration core: one open
// camera driven through preview, still capture, video recording, raw
// frame streaming, manual focus and mode changes.
//
// All session state lives on a single dispatch goroutine. Public
// commands and hardware callbacks never touch state directly; they post
// closures onto the camera's task queue and the dispatch goroutine runs
// them in order. Asynchronous commands report completion through a done
// callback, which is invoked on the dispatch goroutine.
//
// Every capture session carries a generation number. Replacing or
// closing a session bumps the generation, and callbacks issued under an
// older generation are discarded when they arrive, so a torn-down
// session can never act on its successor.
package camera
