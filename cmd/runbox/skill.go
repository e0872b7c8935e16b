package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/runbox/internal/skillpack"
)

var (
	skillRunEnv     []string
	skillRunTimeout int
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "List and run skill packs",
	Long: `Skills are reusable command templates defined as Markdown files with YAML
frontmatter, loaded from the workspace skills directory and any extra
directories in the config.`,
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available skills",
	RunE:  runSkillList,
}

var skillShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a skill's template and description",
	Args:  cobra.ExactArgs(1),
	RunE:  runSkillShow,
}

var skillRunCmd = &cobra.Command{
	Use:   "run <key> [args...]",
	Short: "Run a skill, appending extra arguments to its command",
	Long: `Run a skill by its key (the filename stem). Extra arguments are appended
to the skill's command; -e entries override the skill's env template.

Exit codes match "runbox exec".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSkillRun,
}

func init() {
	skillRunCmd.Flags().StringArrayVarP(&skillRunEnv, "env", "e", nil, "extra environment variable (KEY=VALUE, repeatable)")
	skillRunCmd.Flags().IntVar(&skillRunTimeout, "timeout", 0, "override the skill timeout in seconds")
	skillCmd.AddCommand(skillListCmd, skillShowCmd, skillRunCmd)
}

func runSkillList(_ *cobra.Command, _ []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	skills, err := loadSkills(comps)
	if err != nil {
		return err
	}
	if len(skills) == 0 {
		fmt.Printf("no skills found in %s\n", comps.Workspace.SkillsDir())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tVERSION\tBACKEND\tTIMEOUT\tDESCRIPTION")
	for _, sk := range sortedSkills(skills) {
		backend := sk.Backend
		if backend == "" {
			backend = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sk.Key, sk.Name, orDash(sk.Version), backend, sk.Timeout(), firstLine(sk.Description))
	}
	return w.Flush()
}

func runSkillShow(_ *cobra.Command, args []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	skills, err := loadSkills(comps)
	if err != nil {
		return err
	}
	sk, ok := skills[args[0]]
	if !ok {
		return fmt.Errorf("unknown skill %q (see \"runbox skill list\")", args[0])
	}

	fmt.Printf("key:      %s\n", sk.Key)
	fmt.Printf("name:     %s\n", sk.Name)
	fmt.Printf("version:  %s\n", orDash(sk.Version))
	fmt.Printf("author:   %s\n", orDash(sk.Author))
	fmt.Printf("command:  %s\n", strings.Join(sk.Command, " "))
	fmt.Printf("backend:  %s\n", orDash(sk.Backend))
	fmt.Printf("timeout:  %s\n", sk.Timeout())
	fmt.Printf("source:   %s\n", sk.SourceFile)
	if len(sk.InputFiles) > 0 {
		fmt.Printf("inputs:   %s\n", strings.Join(sk.InputFiles, ", "))
	}
	if sk.Description != "" {
		fmt.Printf("\n%s\n", sk.Description)
	}
	return nil
}

func runSkillRun(_ *cobra.Command, args []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	skills, err := loadSkills(comps)
	if err != nil {
		comps.Cleanup()
		return err
	}
	sk, ok := skills[args[0]]
	if !ok {
		comps.Cleanup()
		return fmt.Errorf("unknown skill %q (see \"runbox skill list\")", args[0])
	}
	// A skill may pin its own backend; rebuild the executor when it differs
	// from the configured one.
	if sk.Backend != "" && sk.Backend != comps.Backend {
		comps.Cleanup()
		comps, err = initShared(backendOverrides{Backend: sk.Backend})
		if err != nil {
			return err
		}
	}

	env, err := parseEnvPairs(skillRunEnv)
	if err != nil {
		comps.Cleanup()
		return err
	}

	req := sk.Request(args[1:], env)
	if skillRunTimeout > 0 {
		req.Timeout = time.Duration(skillRunTimeout) * time.Second
	}

	ctx := context.Background()
	if err := comps.Executor.CheckAvailability(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: backend unavailable: %v\n", err)
		comps.Cleanup()
		os.Exit(ExitBackendUnavailable)
	}

	res := comps.Executor.Execute(ctx, req)
	code := printResult(res, false)
	comps.Cleanup()
	os.Exit(code)
	return nil
}

func sortedSkills(skills map[string]skillpack.Skill) []skillpack.Skill {
	out := make([]skillpack.Skill, 0, len(skills))
	for _, key := range skillpack.Keys(skills) {
		out = append(out, skills[key])
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
