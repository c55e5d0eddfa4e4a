package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/javi11/docvault/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	hashCmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash to use as a user password in the config file",
		Args:  cobra.NoArgs,
		RunE:  runHashPassword,
	}

	rootCmd.AddCommand(hashCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	pass, err := readPassword()
	if err != nil {
		return err
	}
	if pass == "" {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := auth.HashPassword(pass)
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}

// readPassword prompts without echo on a terminal and reads one line otherwise
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
