// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeEnv holds small process-lifecycle helpers shared by the
// daemon entrypoint: a minimal .env loader and systemd readiness
// notification.
package runtimeEnv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// LoadEnv is a very simple and limited .env file reader. Every variable
// definition found is added directly to the process environment.
func LoadEnv(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	s := bufio.NewScanner(bufio.NewReader(f))
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "#") || len(line) == 0 {
			continue
		}
		if strings.Contains(line, "#") {
			return errors.New("'#' are only supported at the start of a line")
		}

		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("RUNTIMEENV: unsupported line: %#v", line)
		}

		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if strings.HasPrefix(val, "\"") {
			if !strings.HasSuffix(val, "\"") {
				return fmt.Errorf("RUNTIMEENV: unsupported line: %#v", line)
			}
			unquoted, err := unescapeQuoted(val[1 : len(val)-1])
			if err != nil {
				return err
			}
			val = unquoted
		}

		os.Setenv(key, val)
	}

	return s.Err()
}

func unescapeQuoted(s string) (string, error) {
	runes := []rune(s)
	var sb strings.Builder
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' {
			sb.WriteRune(runes[i])
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("RUNTIMEENV: trailing backslash in quoted string")
		}
		switch runes[i] {
		case 'n':
			sb.WriteRune('\n')
		case 'r':
			sb.WriteRune('\r')
		case 't':
			sb.WriteRune('\t')
		case '"':
			sb.WriteRune('"')
		default:
			return "", fmt.Errorf("RUNTIMEENV: unsupported escape sequence: backslash %#v", runes[i])
		}
	}
	return sb.String(), nil
}

// SystemdNotify informs systemd of a readiness/status change, if the
// process was started under systemd (NOTIFY_SOCKET set). A no-op
// otherwise. See sd_notify(3).
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}
	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	_ = cmd.Run()
}
