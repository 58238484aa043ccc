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
	"fmt"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runConfigShow prints the effective configuration (file, defaults and
// the SENTINEL_API_URL override) as YAML.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := yaml.Marshal(config.Global)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
