package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Serve runs the worker side of the process sandbox: it reads one JSON
// request per line from r and writes one ModuleShape per line to w until r
// reaches EOF.
func Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	rt := NewRuntime(ctx)
	defer rt.Close(ctx)

	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode probe request: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := enc.Encode(InspectFile(ctx, rt, req.Path)); err != nil {
			return fmt.Errorf("failed to write probe reply: %w", err)
		}
	}
}
