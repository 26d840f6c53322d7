package testing

import (
	"os"
	"path"
	"runtime"
)

func init() {
	// cd to the project root when testing, so that relative paths (logs dir,
	// sqlite files) resolve the same way they do for cmd/server.
	//
	//   in some_test.go,
	//   import (
	//     _ "vytalwatch.dev/rpm-core-service/pkg/testing"
	//   )

	_, filename, _, _ := runtime.Caller(0)
	dir := path.Join(path.Dir(filename), "..", "..")
	err := os.Chdir(dir)
	if err != nil {
		panic(err)
	}
}
