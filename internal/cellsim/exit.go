package cellsim

import "os"

// osExit is a seam over os.Exit so DelayQueue's default fatal handler
// can be exercised in tests (via WithFatalHandler in production code,
// or by swapping this var in _test.go files) without killing the test
// binary.
var osExit = os.Exit
