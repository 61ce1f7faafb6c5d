/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/uavdetect/detrtrain/pkg/catalog"
	"github.com/uavdetect/detrtrain/trainer/datasets"
)

var datasetsCmd = &cobra.Command{
	Use:               "datasets",
	Short:             "show datasets",
	Long:              `show the builtin datasets and whether their files are present.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return ListDatasets(cmd.OutOrStdout())
	},
}

// ListDatasets registers the builtin datasets and prints one line per dataset.
func ListDatasets(w io.Writer) error {
	c := catalog.New()
	if err := datasets.Register(c); err != nil {
		return err
	}

	for _, name := range datasets.Names() {
		e, err := c.Get(name)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s: json=%s (%s) images=%s (%s)\n", name, e.JSONFile, status(e.JSONFile), e.ImageRoot, status(e.ImageRoot))
	}

	return nil
}

func status(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "missing"
	}

	return "found"
}
