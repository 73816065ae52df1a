package main

import (
	"context"
	"fmt"
)

func needed(ctx context.Context, path string) error {
	f, err := openFile(ctx, path)
	if err != nil {
		return err
	}
	names, err := f.Needed()
	if err != nil {
		return err
	}
	out := output(ctx)
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}
