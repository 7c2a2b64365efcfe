package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"auto_xhs_publisher/config"
	"auto_xhs_publisher/console"
	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/pipeline"
	"auto_xhs_publisher/publisher"
	"auto_xhs_publisher/research"
	"auto_xhs_publisher/server"
	"auto_xhs_publisher/store"
)

var verbose bool

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	theme := flag.String("theme", "", "post theme, asked interactively when empty")
	category := flag.String("category", "", "content category (auto to infer)")
	llmModel := flag.String("llm-model", "", "LLM model name")
	llmBaseURL := flag.String("llm-base-url", "", "LLM API base URL")
	llmAPIKey := flag.String("llm-api-key", "", "LLM API key")
	imageModel := flag.String("image-model", "", "image model name")
	imageBaseURL := flag.String("image-base-url", "", "image API base URL")
	imageAPIKey := flag.String("image-api-key", "", "image API key")
	showHelp := flag.Bool("config", false, "show configuration help and exit")
	configPath := flag.String("config-file", config.DefaultFile, "path to config.json or config.yaml")
	saveConfig := flag.Bool("save-config", false, "write the effective config (without secrets) to --config-file and exit")
	serve := flag.Bool("serve", false, "start the post history web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides server_addr)")
	mock := flag.Bool("mock", false, "use offline mock text/image backends and a dry-run publisher")
	dryRun := flag.Bool("dry-run", false, "log the note instead of publishing it")
	flag.BoolVar(&verbose, "v", false, "enable info logs")
	flag.Parse()

	if *showHelp {
		fmt.Print(config.Help())
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[cli] warning: failed to load .env file: %v", err)
	}
	cfg, err := config.Load(*configPath, false)
	if err != nil {
		fatal(err)
	}

	// 命令行参数优先级最高
	override := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&cfg.Category, *category)
	override(&cfg.LLM.Model, *llmModel)
	override(&cfg.LLM.BaseURL, *llmBaseURL)
	override(&cfg.LLM.APIKey, *llmAPIKey)
	override(&cfg.Image.Model, *imageModel)
	override(&cfg.Image.BaseURL, *imageBaseURL)
	override(&cfg.Image.APIKey, *imageAPIKey)
	override(&cfg.ServerAddr, *addr)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *saveConfig {
		if err := cfg.Save(*configPath); err != nil {
			fatal(err)
		}
		log.Printf("[cli] config saved to %s", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(cfg.PostsDir())

	// Web server mode
	if *serve {
		srv, err := server.New(st, log.Default())
		if err != nil {
			fatal(err)
		}
		httpSrv := &http.Server{Addr: cfg.ServerAddr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		log.Printf("Starting web server on %s", cfg.ServerAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(err)
		}
		return
	}

	if !*mock {
		if err := cfg.ValidateBackends(); err != nil {
			fatal(err)
		}
	}

	content, covers, err := buildGenerators(cfg, *mock)
	if err != nil {
		fatal(err)
	}
	pub, err := buildPublisher(cfg, *mock || *dryRun)
	if err != nil {
		fatal(err)
	}

	imageLabel := ""
	if covers != nil {
		imageLabel = cfg.Image.Model
	}
	if *mock {
		cfg.LLM.Model, imageLabel = "mock", "mock"
	}
	console.Banner(os.Stdout, cfg.LLM.Model, imageLabel, cfg.Category)

	prompter := console.New(os.Stdin, os.Stdout)
	if strings.TrimSpace(*theme) == "" {
		*theme, err = askTheme(ctx, prompter)
		if err != nil {
			log.Printf("[cli] no theme given: %v", err)
			os.Exit(1)
		}
	}

	cat, err := generator.ParseCategory(cfg.Category)
	if err != nil {
		fatal(err)
	}
	deps := pipeline.Deps{
		Content:   content,
		Publisher: pub,
		Store:     st,
		Human:     prompter,
		Logger:    log.Default(),
	}
	// 不能把值为 nil 的 *ImageGenerator 直接放进接口
	if covers != nil {
		deps.Covers = covers
	}
	orch, err := pipeline.New(deps, pipeline.RunOptions{
		Category:   cat,
		TitleCount: cfg.TitleCount,
		Credential: publisher.NewCredential(cfg.Credential),
		Verbose:    verbose,
	})
	if err != nil {
		fatal(err)
	}

	session, err := orch.Run(ctx, *theme)
	if errors.Is(err, pipeline.ErrAborted) {
		log.Printf("[cli] cancelled; session files kept under %s", cfg.PostsDir())
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
	console.Summary(os.Stdout, session)
}

func askTheme(ctx context.Context, h pipeline.Human) (string, error) {
	req := pipeline.Request{Title: "新笔记", Prompt: "请输入笔记主题（q 退出）"}
	for {
		raw, err := h.Respond(ctx, req)
		if err != nil {
			return "", err
		}
		raw = strings.TrimSpace(raw)
		switch {
		case raw == "q" || raw == "quit" || raw == "退出":
			return "", pipeline.ErrAborted
		case raw != "":
			return raw, nil
		}
		req.Problem = "主题不能为空"
	}
}

func buildGenerators(cfg config.Config, mock bool) (*generator.ContentGenerator, *generator.ImageGenerator, error) {
	var (
		llm generator.LLMClient
		img generator.ImageClient
		err error
	)
	if mock {
		llm, img = generator.MockLLM{}, generator.MockImage{}
	} else {
		llm, err = generator.NewOpenAILLMFromConfig(cfg.LLMSettings())
		if err != nil {
			return nil, nil, err
		}
		if cfg.ImageEnabled() {
			img, err = generator.NewOpenAIImageFromConfig(cfg.ImageSettings())
			if err != nil {
				return nil, nil, err
			}
		} else {
			log.Printf("[cli] IMAGE_API_KEY not set, covers will be skipped")
		}
	}

	opts := []generator.ContentOption{
		generator.WithPrompts(generator.NewPromptSet(cfg.PromptDir)),
		generator.WithLogger(log.Default()),
	}
	if !mock && cfg.SearchEnabled() {
		if rc := research.New(cfg.Search.APIKey, "", nil); rc != nil {
			opts = append(opts, generator.WithResearcher(rc))
		}
	}
	content, err := generator.NewContentGenerator(llm, opts...)
	if err != nil {
		return nil, nil, err
	}
	if img == nil {
		return content, nil, nil
	}
	covers, err := generator.NewImageGenerator(img, cfg.Image.Size)
	if err != nil {
		return nil, nil, err
	}
	return content, covers, nil
}

func buildPublisher(cfg config.Config, dryRun bool) (publisher.Client, error) {
	if dryRun {
		return publisher.NewDryRun(cfg.Credential != "", log.Default()), nil
	}
	return publisher.New(publisher.Config{
		BaseURL:    cfg.Publisher.BaseURL,
		CookieFile: cfg.Publisher.CookieFile,
		Cookie:     cfg.Credential,
		TopicPause: time.Second,
	}, nil, verbose, log.Default())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
