// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"strings"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/chat"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

// runChat sends one question to the operations assistant. Without a
// message it prints the assistant mode (OPENAI, LOCAL or UNKNOWN).
func runChat(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	session := chat.NewSession(rt.client, rt.logger, nil)
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return printChatMode(cmd, session)
	}

	var reply chat.Message
	err = ux.WithSpinner("Thinking...", func() error {
		var err error
		reply, err = session.Send(cmd.Context(), text, chatContext, targetServer(rt.cfg))
		return err
	})
	if err != nil {
		return err
	}
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		ux.Info(reply.Content)
		return nil
	}
	ux.Box("Assistant", reply.Content)
	if !chatContext {
		ux.Hint("Add --context to include the server's live telemetry.")
	}
	return nil
}

func runChatMode(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()
	return printChatMode(cmd, chat.NewSession(rt.client, rt.logger, nil))
}

func printChatMode(cmd *cobra.Command, session *chat.Session) error {
	ux.Field("Mode", session.RefreshMode(cmd.Context()))
	return nil
}
