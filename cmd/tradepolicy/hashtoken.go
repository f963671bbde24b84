package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/api"
)

func hashTokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "hash-token",
		Usage:     "Print the bcrypt hash of an admin token for admin_token_hash",
		ArgsUsage: "[token] (read from stdin when omitted)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			token := cmd.Args().First()
			if token == "" {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			hash, err := api.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
