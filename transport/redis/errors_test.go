//go:build test

package redis

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsOOMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "exact Redis OOM message",
			err:  errors.New("OOM command not allowed when used memory > 'maxmemory'"),
			want: true,
		},
		{
			name: "wrapped OOM error",
			err:  fmt.Errorf("redis script failed: %w", errors.New("OOM command not allowed when used memory > 'maxmemory'")),
			want: true,
		},
		{
			name: "non-OOM error",
			err:  errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"),
			want: false,
		},
		{
			name: "connection error",
			err:  errors.New("dial tcp: connection refused"),
			want: false,
		},
		{
			name: "OOM substring in different context",
			err:  errors.New("OOM"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsOOMError(tt.err)
			if got != tt.want {
				t.Errorf("IsOOMError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "oom", err: errors.New("OOM command not allowed"), want: true},
		{name: "loading", err: errors.New("LOADING Redis is loading the dataset in memory"), want: true},
		{name: "readonly replica", err: errors.New("READONLY You can't write against a read only replica."), want: true},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: true},
		{name: "wrongtype", err: errors.New("WRONGTYPE Operation against a key"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
