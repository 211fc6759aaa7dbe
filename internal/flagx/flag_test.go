package flagx

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPick(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		names []string
		bools []string
		want  []string
	}{
		{
			name:  "separate value",
			args:  []string{"-d", "/var/lib/mindvault", "-c", "mv.json"},
			names: []string{"d"},
			want:  []string{"-d", "/var/lib/mindvault"},
		},
		{
			name:  "double dash and inline value",
			args:  []string{"--e=on", "-u", "u1"},
			names: []string{"e"},
			want:  []string{"--e=on"},
		},
		{
			name:  "flag as last token",
			args:  []string{"-u", "u1", "-t"},
			names: []string{"t"},
			want:  []string{"-t"},
		},
		{
			name:  "next flag is not a value",
			args:  []string{"-d", "-e", "off"},
			names: []string{"d", "e"},
			want:  []string{"-d", "-e", "off"},
		},
		{
			name:  "bool flag leaves the positional alone",
			args:  []string{"-v", "export.json", "-u", "u2"},
			names: []string{"u"},
			bools: []string{"v"},
			want:  []string{"-v", "-u", "u2"},
		},
		{
			name:  "stops at terminator",
			args:  []string{"-u", "u1", "--", "-u", "u2"},
			names: []string{"u"},
			want:  []string{"-u", "u1"},
		},
		{
			name:  "lone dash and positionals skipped",
			args:  []string{"-", "wipe", "-l", "debug"},
			names: []string{"l"},
			want:  []string{"-l", "debug"},
		},
		{
			name:  "repeated flag kept in order",
			args:  []string{"-u", "u1", "-u=u2"},
			names: []string{"u"},
			want:  []string{"-u", "u1", "-u=u2"},
		},
		{
			name:  "nothing matches",
			args:  []string{"-x", "1", "status"},
			names: []string{"d"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Pick(tt.args, tt.names, tt.bools))
		})
	}
}

func TestParse_OnlyDefinedFlags(t *testing.T) {
	var (
		dir     string
		timeout time.Duration
		verbose bool
	)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&dir, "d", "", "")
	fs.DurationVar(&timeout, "t", 0, "")
	fs.BoolVar(&verbose, "v", false, "")

	args := []string{"-c", "mv.json", "--d=/data", "-v", "journal", "-t", "3s", "-unknown"}
	require.NoError(t, Parse(fs, args))
	assert.Equal(t, "/data", dir)
	assert.Equal(t, 3*time.Second, timeout)
	assert.True(t, verbose)
	assert.Empty(t, fs.Args())
}

func TestParse_BadValueFails(t *testing.T) {
	var timeout time.Duration
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.DurationVar(&timeout, "t", 0, "")

	assert.Error(t, Parse(fs, []string{"-t", "soon"}))
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "short", args: []string{"-c", "/etc/mv.json"}, want: "/etc/mv.json"},
		{name: "long with equals", args: []string{"--config=/etc/mv.json"}, want: "/etc/mv.json"},
		{name: "among other flags", args: []string{"-u", "u1", "-e", "on", "-c=/tmp/a.json"}, want: "/tmp/a.json"},
		{name: "last wins", args: []string{"-c", "/tmp/1.json", "-config", "/tmp/2.json"}, want: "/tmp/2.json"},
		{name: "absent", args: []string{"-d", "/data"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}
