package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestThemeCommand_SavesLocally(t *testing.T) {
	t.Setenv("AICHAT_HOME", t.TempDir())

	out, err := run(t, "", "theme")
	if err != nil {
		t.Fatalf("theme error = %v", err)
	}
	if !strings.HasPrefix(out, "system/default\n") {
		t.Errorf("theme output = %q, want system/default first", out)
	}

	if _, err := run(t, "", "theme", "dark", "blue"); err != nil {
		t.Fatalf("theme dark blue error = %v", err)
	}
	out, _ = run(t, "", "theme")
	if !strings.HasPrefix(out, "dark/blue\n") {
		t.Errorf("theme output = %q, want dark/blue", out)
	}

	// 只改模式时保留颜色
	if _, err := run(t, "", "theme", "light"); err != nil {
		t.Fatalf("theme light error = %v", err)
	}
	out, _ = run(t, "", "theme")
	if !strings.HasPrefix(out, "light/blue\n") {
		t.Errorf("theme output = %q, want light/blue", out)
	}

	if _, err := run(t, "", "theme", "neon"); err == nil {
		t.Error("theme neon should fail")
	}
}

func TestRoomRequiresLogin(t *testing.T) {
	t.Setenv("AICHAT_HOME", t.TempDir())
	if _, err := run(t, "", "room"); err != errSignedOut {
		t.Errorf("room error = %v, want errSignedOut", err)
	}
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		stdin   string
		want    string
		wantErr bool
	}{
		{"flag wins", "secret", "other\n", "secret", false},
		{"prompted", "", "typed\r\n", "typed", false},
		{"no trailing newline", "", "typed", "typed", false},
		{"empty", "", "\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("password", tt.flag, "")
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetOut(&bytes.Buffer{})
			got, err := readPassword(cmd)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("readPassword() = %q, %v, want %q, wantErr %v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestReadPassword_PipedFileReadsLine(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := w.WriteString("piped\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	cmd := &cobra.Command{}
	cmd.Flags().String("password", "", "")
	cmd.SetIn(r)
	cmd.SetOut(&bytes.Buffer{})
	got, err := readPassword(cmd)
	if err != nil || got != "piped" {
		t.Errorf("readPassword() = %q, %v, want %q", got, err, "piped")
	}
}
