package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfredjeanlab/coedit/internal/model"
)

func TestSessionCommands(t *testing.T) {
	withServer(t)
	buf := captureOutput(t)

	setFlag(t, createCmd, "code", "let x = 1;")
	if err := createCmd.RunE(createCmd, []string{"alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	created := strings.TrimSpace(buf.String())
	id := strings.TrimPrefix(created, "Created session ")
	if id == created || id == "" {
		t.Fatalf("unexpected create output %q", created)
	}

	buf.Reset()
	if err := showCmd.RunE(showCmd, []string{id}); err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{id, "alice", "open", "let x = 1;"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	setFlag(t, codeCmd, "code", "console.log(2)")
	if err := codeCmd.RunE(codeCmd, []string{id}); err != nil {
		t.Fatalf("code set: %v", err)
	}
	sess, err := sessionClient.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Code != "console.log(2)" {
		t.Errorf("code = %q, want console.log(2)", sess.Code)
	}

	if err := lockCmd.RunE(lockCmd, []string{id}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	sess, _ = sessionClient.GetSession(context.Background(), id)
	if !sess.Locked {
		t.Error("expected session to be locked")
	}
	if err := unlockCmd.RunE(unlockCmd, []string{id}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	sess, _ = sessionClient.GetSession(context.Background(), id)
	if sess.Locked {
		t.Error("expected session to be unlocked")
	}

	buf.Reset()
	if err := participantsCmd.RunE(participantsCmd, []string{id}); err != nil {
		t.Fatalf("participants: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "alice" {
		t.Errorf("participants = %q, want alice", buf.String())
	}

	if err := kickCmd.RunE(kickCmd, []string{id, "alice"}); err != nil {
		t.Fatalf("kick: %v", err)
	}
	names, _ := sessionClient.ListParticipants(context.Background(), id)
	if len(names) != 0 {
		t.Errorf("participants after kick = %v, want none", names)
	}

	buf.Reset()
	if err := listCmd.RunE(listCmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(buf.String(), id) || !strings.Contains(buf.String(), "1 sessions") {
		t.Errorf("list output unexpected:\n%s", buf.String())
	}
}

func TestShowJSON(t *testing.T) {
	withServer(t)
	buf := captureOutput(t)
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	sess, err := sessionClient.CreateSession(context.Background(), "bob", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := showCmd.RunE(showCmd, []string{sess.ID}); err != nil {
		t.Fatalf("show: %v", err)
	}

	var got struct {
		Session      *model.Session `json:"session"`
		Participants []string       `json:"participants"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if got.Session.ID != sess.ID || len(got.Participants) != 1 || got.Participants[0] != "bob" {
		t.Errorf("unexpected json: %+v", got)
	}
}

func TestShowNotFound(t *testing.T) {
	withServer(t)
	captureOutput(t)
	err := showCmd.RunE(showCmd, []string{"cs-missing"})
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestCodePrintsStoredCode(t *testing.T) {
	withServer(t)
	buf := captureOutput(t)

	sess, err := sessionClient.CreateSession(context.Background(), "carol", "a\nb\n")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := codeCmd.RunE(codeCmd, []string{sess.ID}); err != nil {
		t.Fatalf("code: %v", err)
	}
	if buf.String() != "a\nb\n" {
		t.Errorf("code output = %q", buf.String())
	}
}

func TestReadCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.js")
	if err := os.WriteFile(path, []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	setFlag(t, createCmd, "file", path)
	got, err := readCode(createCmd)
	if err != nil {
		t.Fatalf("readCode: %v", err)
	}
	if got != "print(1)" {
		t.Errorf("readCode = %q", got)
	}

	setFlag(t, createCmd, "code", "x")
	if _, err := readCode(createCmd); err == nil {
		t.Error("expected error when both --code and --file are set")
	}
}

func TestReadCodeStdin(t *testing.T) {
	setFlag(t, codeCmd, "file", "-")
	codeCmd.SetIn(strings.NewReader("from stdin"))
	t.Cleanup(func() { codeCmd.SetIn(nil) })

	got, err := readCode(codeCmd)
	if err != nil {
		t.Fatalf("readCode: %v", err)
	}
	if got != "from stdin" {
		t.Errorf("readCode = %q", got)
	}
}
