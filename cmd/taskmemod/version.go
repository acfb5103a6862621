/*
Copyright 2013 The Camlistore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"taskmemo.dev/taskmemo/pkg/buildinfo"
	"taskmemo.dev/taskmemo/pkg/cmdmain"
)

type versionCmd struct{}

func init() {
	cmdmain.RegisterCommand("version", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		return new(versionCmd)
	})
}

func (versionCmd) Describe() string { return "Print taskmemod's version." }

func (versionCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: taskmemod version\n")
}

func (versionCmd) RunCommand(args []string) error {
	fmt.Fprintf(cmdmain.Stdout, "taskmemod %s\n", buildinfo.Summary())
	return nil
}
