package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// workerEnv makes the test binary act as a sandbox worker. "serve" runs Serve;
// "faulty" hangs on files named hang* and exits on files named crash*.
const workerEnv = "CAPSCAN_SANDBOX_WORKER"

func TestMain(m *testing.M) {
	switch os.Getenv(workerEnv) {
	case "serve":
		if err := Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "faulty":
		os.Exit(runFaultyWorker())
	}
	os.Exit(m.Run())
}

func runFaultyWorker() int {
	ctx := context.Background()
	rt := NewRuntime(ctx)
	dec := json.NewDecoder(os.Stdin)
	enc := json.NewEncoder(os.Stdout)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return 0
		}
		base := filepath.Base(req.Path)
		switch {
		case strings.HasPrefix(base, "hang"):
			time.Sleep(time.Hour)
		case strings.HasPrefix(base, "crash"):
			fmt.Fprintln(os.Stderr, "worker crashing on", base)
			return 3
		}
		if err := enc.Encode(InspectFile(ctx, rt, req.Path)); err != nil {
			return 1
		}
	}
}

func workerOptions(mode string) []Option {
	return []Option{
		WithCommand(os.Args[0], "-test.run=^$"),
		WithEnv(workerEnv + "=" + mode),
	}
}
