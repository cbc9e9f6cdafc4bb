package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    command
		wantErr string
	}{
		{name: "up", args: []string{"up"}, want: command{action: "up"}},
		{name: "version with path", args: []string{"-path", "/srv/migrations", "version"}, want: command{action: "version", path: "/srv/migrations"}},
		{name: "full down", args: []string{"down"}, want: command{action: "down"}},
		{name: "down steps confirmed", args: []string{"-drop-schema", "down", "2"}, want: command{action: "down", n: 2, dropSchema: true}},
		{name: "force", args: []string{"force", "1"}, want: command{action: "force", n: 1}},
		{name: "no command", args: nil, wantErr: "no command given"},
		{name: "unknown", args: []string{"redo"}, wantErr: `unknown command "redo"`},
		{name: "down zero", args: []string{"down", "0"}, wantErr: "positive integer"},
		{name: "force negative", args: []string{"force", "-1"}, wantErr: "non-negative"},
		{name: "force missing version", args: []string{"force"}, wantErr: "needs a version"},
		{name: "up extra", args: []string{"up", "3"}, wantErr: "takes no arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, io.Discard)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
