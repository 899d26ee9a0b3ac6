// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worldloom/pkg/ux"
	"github.com/AleutianAI/worldloom/pkg/validation"
	"github.com/AleutianAI/worldloom/services/topology/datatypes"
)

// runLoreIngest sends a canon document to a running topology service. Lore
// indexing needs the service's embedder and vector store, so unlike the
// other commands this one does not run against the local store.
func runLoreIngest(cmd *cobra.Command, args []string) error {
	file := args[0]

	source := loreSource
	if source == "" {
		source = filepath.Base(file)
	}
	if err := validation.ValidateSourceName(source); err != nil {
		return err
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading lore file: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return fmt.Errorf("lore file %s is empty", file)
	}

	body, err := json.Marshal(datatypes.LoreIngestRequest{
		Source:  source,
		Content: string(content),
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(loreServiceURL, "/") + "/v1/lore"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	spinner := ux.NewSpinner(fmt.Sprintf("ingesting %s", source))
	spinner.Start()
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("topology service unreachable at %s: %w", loreServiceURL, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("lore ingest refused (%s): %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var result struct {
		Source    string `json:"source"`
		Fragments int    `json:"fragments"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("unexpected service response: %w", err)
	}

	ux.Title("Lore ingested")
	ux.KeyValue("source", result.Source)
	ux.KeyValue("fragments", result.Fragments)
	return nil
}
