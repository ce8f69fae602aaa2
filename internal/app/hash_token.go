package app

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"horse.fit/upkeep/internal/auth"
)

func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	generate := fs.Bool("generate", false, "Generate a new random token and print it with its hash")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "hash-token reads the token from stdin; pass --generate to create one")
		return 2
	}

	var (
		token string
		err   error
	)
	if *generate {
		token, err = auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
			return 1
		}
	} else {
		token, err = readTokenLine(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read token: %v\n", err)
			return 1
		}
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 2
	}

	if *generate {
		fmt.Printf("token: %s\n", token)
	}
	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
	return 0
}

func readTokenLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	return token, nil
}
