// Package utils holds small cross-package helpers with no natural home
// of their own.
package utils

import (
	"io"
	"log/slog"
)

// CloseWithLog closes c and logs any error instead of discarding it,
// for the defer sites where a returned close error has nowhere useful
// to propagate to.
func CloseWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("error closing resource", "resource", c, "err", err)
	}
}
