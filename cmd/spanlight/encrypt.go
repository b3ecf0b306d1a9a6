package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"spanlight/internal/infra/config"
)

// runEncrypt prints the config form of a secret ("enc:..."), taken from the
// first argument or, when absent, the first line of stdin.
func runEncrypt(args []string) error {
	passphrase := os.Getenv("SPANLIGHT_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("SPANLIGHT_CONFIG_KEY is not set")
	}
	plaintext, err := secretInput(args, os.Stdin)
	if err != nil {
		return err
	}
	out, err := config.EncryptValue(plaintext, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(config.EncryptedPrefix + out)
	return nil
}

func secretInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("usage: spanlight encrypt SECRET (or pipe it on stdin)")
	}
	return line, nil
}
