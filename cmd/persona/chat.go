package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	orchestration "github.com/koscakluka/ema-persona/core"
	"github.com/koscakluka/ema-persona/core/attachments"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/documents"
	"github.com/koscakluka/ema-persona/core/retrieval"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var scope, company string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation in a scope.

Every line is sent as a turn. Lines starting with a slash are commands:
  /attach FILE...   extract files into the next turn
  /files            list pending attachments
  /remove N         drop pending attachment N
  /replay           replay the last answer that has video
  /stop             stop speaking
  /scope SCOPE      switch to another scope
  /quit             leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), resolveScope(scope, company), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	scopeFlags(cmd, &scope, &company)
	return cmd
}

// chatSession ties the orchestrator to a line based terminal.
type chatSession struct {
	orchestrator *orchestration.Orchestrator
	ingestor     *attachments.Ingestor

	outMu sync.Mutex
	out   io.Writer
}

func runChat(ctx context.Context, scope conversations.Scope, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.config.Validate(); err != nil {
		return err
	}

	session := &chatSession{out: out}

	generator, err := a.generator(ctx)
	if err != nil {
		return err
	}
	renderer, err := a.renderer()
	if err != nil {
		return err
	}
	fallback, err := a.speech()
	if err != nil {
		return err
	}
	ingestor, err := a.ingestor(ctx, func(processing bool) {
		if processing {
			session.printf("extracting attachments...\n")
		}
	})
	if err != nil {
		return err
	}
	session.ingestor = ingestor
	index, err := a.vectorIndex(ctx)
	if err != nil {
		return err
	}

	cache := documents.NewCache(a.store)
	defer cache.Close()

	retriever := retrieval.NewRetriever(nil, cache)
	if index != nil {
		retriever = retrieval.NewRetriever(index, cache)
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithMessageStore(a.store),
		orchestration.WithSettingsStore(a.store),
		orchestration.WithResponseGenerator(generator),
		orchestration.WithRetriever(retriever),
		orchestration.WithDocumentCache(cache),
		orchestration.WithTopK(a.config.Retrieval.TopK),
		orchestration.WithVideoEndDelay(a.config.Presentation.VideoEndDelay),
		orchestration.WithTerminalMarks(a.config.Presentation.TerminalMarks, a.config.Presentation.DefaultTerminalMark),
		orchestration.WithPresentationCallback(session.onPresentation),
		orchestration.WithTurnFailedCallback(func(err error) {
			session.printf("! turn failed: %v\n", err)
		}),
	}
	if renderer != nil {
		opts = append(opts, orchestration.WithAvatarRenderer(renderer))
	}
	if fallback != nil {
		opts = append(opts, orchestration.WithSpeechFallback(fallback))
	}
	if ingestor != nil {
		opts = append(opts, orchestration.WithAttachments(ingestor))
	}

	o, err := orchestration.NewOrchestrator(scope, opts...)
	if err != nil {
		return err
	}
	defer o.Close()
	session.orchestrator = o

	session.printf("chatting in %s, /quit to leave\n", scope)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := session.command(ctx, line); quit {
				return nil
			}
			continue
		}
		session.submit(ctx, line)
	}
	return scanner.Err()
}

func (s *chatSession) submit(ctx context.Context, line string) {
	if s.ingestor != nil && s.ingestor.Busy() {
		s.printf("attachments are still being extracted, try again in a moment\n")
		return
	}
	if s.orchestrator.Presentation().IsBusy() {
		s.printf("still answering, /stop to interrupt\n")
		return
	}

	_, err := s.orchestrator.SubmitTurn(ctx, s.orchestrator.Scope(), line)
	if err != nil && !errors.Is(err, orchestration.ErrTurnDiscarded) {
		s.printf("! %v\n", err)
	}
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/stop":
		s.orchestrator.StopSpeaking()
	case "/scope":
		if len(fields) != 2 {
			s.printf("usage: /scope SCOPE\n")
			return false
		}
		s.orchestrator.SwitchScope(conversations.Scope(fields[1]))
		s.printf("switched to %s\n", fields[1])
	case "/replay":
		s.replay()
	case "/attach":
		s.attach(ctx, fields[1:])
	case "/files":
		s.listFiles()
	case "/remove":
		s.remove(fields[1:])
	default:
		s.printf("unknown command %s\n", fields[0])
	}
	return false
}

func (s *chatSession) replay() {
	history := s.orchestrator.History()
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].HasVideo() {
			continue
		}
		if _, ok := s.orchestrator.PlayMessage(history[i]); !ok {
			s.printf("cannot replay while answering\n")
		}
		return
	}
	s.printf("no answer with video to replay\n")
}

func (s *chatSession) attach(ctx context.Context, paths []string) {
	if s.ingestor == nil {
		s.printf("attachments need gemini.api_key\n")
		return
	}
	if len(paths) == 0 {
		s.printf("usage: /attach FILE...\n")
		return
	}

	files := make([]attachments.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			s.printf("! %v\n", err)
			return
		}
		files = append(files, attachments.File{Name: filepath.Base(path), MimeType: mimeType(path, data), Data: data})
	}

	go func() {
		report, err := s.ingestor.Ingest(ctx, files)
		var validationErr *conversations.ValidationError
		switch {
		case errors.As(err, &validationErr):
			s.printf("! %s\n", validationErr.Message)
		case err != nil:
			s.printf("! %v\n", err)
		default:
			s.printf("attached %d file(s)", report.Accepted)
			if len(report.Failed) > 0 {
				s.printf(", %d without extractable content", len(report.Failed))
			}
			s.printf("\n")
		}
	}()
}

func (s *chatSession) listFiles() {
	if s.ingestor == nil {
		return
	}
	for i, file := range s.ingestor.Files() {
		s.printf("%d. %s (%s, %d bytes)\n", i+1, file.Name, file.MimeType, file.Size())
	}
}

func (s *chatSession) remove(args []string) {
	if s.ingestor == nil || len(args) != 1 {
		s.printf("usage: /remove N\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		s.printf("usage: /remove N\n")
		return
	}
	s.ingestor.Remove(n - 1)
}

// onPresentation prints transitions. The terminal has no video player, so a
// video counts as played once its links are printed.
func (s *chatSession) onPresentation(snapshot orchestration.PresentationSnapshot) {
	switch snapshot.State {
	case orchestration.PresentationThinking:
		if snapshot.Caption == "" {
			s.printf("… thinking\n")
		}
	case orchestration.PresentationSpeaking:
		if len(snapshot.VideoRefs) > 0 {
			s.printf("avatar: %s\n", snapshot.Caption)
			for _, ref := range snapshot.VideoRefs {
				s.printf("  ▶ %s\n", ref)
			}
			s.orchestrator.VideoEnded(snapshot.TurnID)
		} else if snapshot.AudioActive {
			s.printf("avatar (voice): %s\n", snapshot.Caption)
		}
	case orchestration.PresentationIdle:
		s.printf("> ")
	}
}

func (s *chatSession) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func mimeType(path string, data []byte) string {
	if byExtension := mime.TypeByExtension(filepath.Ext(path)); byExtension != "" {
		return byExtension
	}
	return http.DetectContentType(data)
}
