// ABOUTME: Interactive `ciri init` setup
// ABOUTME: Asks for Matrix credentials and basic settings, then writes the TOML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/ciri/internal/config"
	"github.com/2389/ciri/internal/store"
)

// prompter reads answers from the user, one per line.
type prompter struct {
	reader *bufio.Reader
	green  *color.Color
}

// ask prints a question and returns the trimmed answer, or def when empty.
func (p *prompter) ask(question, def string) string {
	p.green.Print("    ▶ ")
	if def != "" {
		fmt.Printf("%s [%s]: ", question, def)
	} else {
		fmt.Printf("%s: ", question)
	}
	answer, _ := p.reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def
	}
	return answer
}

func runInit(in io.Reader) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	p := &prompter{reader: bufio.NewReader(in), green: green}
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		if strings.ToLower(p.ask("Overwrite? [y/N]", "")) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	cfg := buildConfig(p)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Invite the bot to a room")
	fmt.Println("    2. Run: ciri")
	fmt.Println()

	return nil
}

// buildConfig fills a default config from the user's answers.
func buildConfig(p *prompter) *config.Config {
	cfg := config.Default()

	cfg.Matrix.Homeserver = p.ask("Matrix homeserver URL", cfg.Matrix.Homeserver)
	cfg.Matrix.Username = p.ask("Matrix username", "")
	cfg.Matrix.Password = p.ask("Matrix password", "")
	cfg.Matrix.RecoveryKey = p.ask("Matrix recovery key (optional, for E2EE)", "")
	cfg.Bot.CommandPrefix = p.ask("Command prefix", cfg.Bot.CommandPrefix)

	backend := p.ask("Cache backend (json or sqlite)", cfg.Cache.Backend)
	if backend == store.BackendSQLite {
		cfg.Cache.Backend = store.BackendSQLite
	}

	return cfg
}
