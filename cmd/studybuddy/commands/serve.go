package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/studybuddy/studybuddy-go/internal/ingest"
	"github.com/studybuddy/studybuddy-go/internal/logging"
	"github.com/studybuddy/studybuddy-go/internal/provider"
	"github.com/studybuddy/studybuddy-go/internal/render"
	"github.com/studybuddy/studybuddy-go/internal/retrieval"
	"github.com/studybuddy/studybuddy-go/internal/runtime"
	"github.com/studybuddy/studybuddy-go/internal/server"
	"github.com/studybuddy/studybuddy-go/internal/slides"
	"github.com/studybuddy/studybuddy-go/internal/tracing"
)

// NewServeCmd constructs the `studybuddy serve` command, which starts the
// HTTP API server for chat and ingestion.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the StudyBuddy HTTP API server",
		Long: `Start the StudyBuddy HTTP server on localhost.

The server exposes a REST/SSE API: POST /api/chat streams cited answers,
POST /api/documents and POST /api/lectures accept course material for
background ingestion.

Examples:
  studybuddy serve
  studybuddy serve --port 9090
  MODEL_PROVIDER=openai studybuddy serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			rt, err := runtime.New(runtime.Config{
				Model:            chatModel,
				MaxContextTokens: getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise chat runtime: %w", err)
			}

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.close()

			// Document ingestion needs poppler and a Gemini key. Chat and
			// lecture ingestion work without either, so their absence only
			// degrades the document pipeline.
			var renderer ingest.PageRenderer
			pdfRenderer, err := render.NewPDFRenderer(getEnvInt("RENDER_DPI", render.DefaultDPI))
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (document uploads will fail)\n", err)
				renderer = unavailableRenderer{err: err}
			} else {
				renderer = pdfRenderer
			}

			var describer slides.DescriptionProvider
			gd, err := slides.NewGeminiDescriber(ctx, os.Getenv("GOOGLE_API_KEY"), getEnvOrDefault("DESCRIBER_MODEL", "gemini-2.0-flash"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (document uploads will fail)\n", err)
				describer = unavailableDescriber{err: err}
			} else {
				describer = gd
			}

			documents := ingest.NewDocumentPipeline(renderer, describer, st.artifacts, st.slideIndex, getEnvInt("INGEST_DEDUP_THRESHOLD", 0))
			lectures := ingest.NewLecturePipeline(st.artifacts, st.lectureIndex, float64(getEnvInt("INGEST_WINDOW_SECONDS", 0)))

			retriever := retrieval.NewDualRetriever(
				st.slideIndex,
				st.lectureIndex,
				getEnvInt("RETRIEVAL_SLIDE_LIMIT", 0),
				getEnvInt("RETRIEVAL_LECTURE_LIMIT", 0),
			)

			pingers := []server.Pinger{
				server.NewQdrantPinger(st.slideStore.Client()),
				server.NewStorePinger(st.db),
			}

			srv, err := server.New(server.Deps{
				Store:     st.db,
				Blobs:     st.blobs,
				Documents: documents,
				Lectures:  lectures,
				Retriever: retriever,
				Runner:    rt,
			}, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("STUDYBUDDY_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// unavailableRenderer fails every render with the startup error that made
// PDF rendering unavailable.
type unavailableRenderer struct{ err error }

func (u unavailableRenderer) Render(context.Context, []byte) ([]slides.Slide, error) {
	return nil, u.err
}

// unavailableDescriber fails every description with the startup error that
// made the vision model unavailable.
type unavailableDescriber struct{ err error }

func (u unavailableDescriber) Describe(context.Context, []byte, int) (slides.Content, error) {
	return slides.Content{}, u.err
}
