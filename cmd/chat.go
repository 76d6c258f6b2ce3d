package cmd

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gochat/internal/models"
	providerfactory "gochat/internal/provider/factory"
	"gochat/internal/provider/openai"
)

const chatUsage = `Usage:
  gochat chat [--config <path>] [--model <id>] [--system <text>] [--image <path>]...

Each input line is sent as a user message and the reply is streamed back.
Ctrl-C stops the reply in progress and ends the session; Ctrl-D ends it between turns.`

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func chat(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, chatUsage)
	}

	var flags clientFlags
	var model, system string
	var images stringList
	flags.register(fs)
	fs.StringVar(&model, "model", "", "model to chat with")
	fs.StringVar(&system, "system", "", "system prompt")
	fs.Var(&images, "image", "image file attached to the first message (repeatable)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse chat flags: %w", err)
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, os.Stderr)

	attachments, err := readImages(images)
	if err != nil {
		return err
	}

	resolver, err := providerfactory.NewResolver(cfg)
	if err != nil {
		return err
	}
	sess := resolver.NewSession(cfg.Credentials(), cfg.Settings())

	repl := &chatREPL{
		session:  sess,
		settings: models.Settings{Model: model},
		out:      out,
		pending:  attachments,
	}
	if system != "" {
		repl.history = append(repl.history, models.ChatMessage{Role: models.RoleSystem, Content: system})
	}
	return repl.run(ctx, in)
}

type chatREPL struct {
	session  *openai.Session
	settings models.Settings
	out      io.Writer
	history  []models.ChatMessage
	pending  []models.FileReference
}

func (r *chatREPL) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(r.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			line = l
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// turn sends one user message and records the streamed reply, partial or not.
func (r *chatREPL) turn(ctx context.Context, text string) error {
	r.history = append(r.history, models.ChatMessage{Role: models.RoleUser, Content: text, Files: r.pending})
	r.pending = nil

	// Interrupts cancel the reply through the session instead of failing the request.
	stop := context.AfterFunc(ctx, r.session.Cancel)
	defer stop()

	var reply strings.Builder
	err := r.session.SendStreamed(context.WithoutCancel(ctx), r.settings, r.history, func(delta string, _ []models.FileReference) {
		reply.WriteString(delta)
		fmt.Fprint(r.out, delta)
	})
	fmt.Fprintln(r.out)
	if err != nil {
		r.history = r.history[:len(r.history)-1]
		return fmt.Errorf("chat: %w", err)
	}

	r.history = append(r.history, models.ChatMessage{Role: models.RoleAssistant, Content: reply.String()})
	return nil
}

func readImages(paths []string) ([]models.FileReference, error) {
	refs := make([]models.FileReference, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %q: %w", path, err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		refs = append(refs, models.FileReference{
			Name:     filepath.Base(path),
			MIMEType: mimeType,
			DataURL:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}
	return refs, nil
}
