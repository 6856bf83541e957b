package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/config"
	"github.com/nattskiftet/chatbot/internal/logging"
	"github.com/nattskiftet/chatbot/internal/service/agent"
)

func main() {
	logger, _ := logging.New(os.Stderr, "debug", true)

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("no .env file, using the process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	command := flag.String("command", "", "START, RESUME, POLL, POST, TYPING or DELETE")
	conversation := flag.String("conversation", "", "conversation id")
	language := flag.String("lang", "", "language for START and RESUME, defaults to CHATBOT_LANGUAGE")
	after := flag.String("after", "", "most recent response id for POLL")
	text := flag.String("text", "", "text to POST")
	action := flag.String("action", "", "action link id to POST")
	url := flag.String("url", cfg.Agent.URL, "agent endpoint")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")

	flag.Parse()

	if *language == "" {
		*language = cfg.Session.Language
	}

	client := agent.NewClient(*url,
		agent.WithTimeout(*timeout),
		agent.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := call(ctx, client, strings.ToUpper(*command), *conversation, *language, *after, *text, *action)
	if err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		logger.Fatal().Err(err).Str("code", string(agent.Classify(err))).Msg("agent call failed")
	}

	printResult(logger, result)
}

var errUsage = errors.New("missing or unknown arguments")

func call(ctx context.Context, client *agent.Client, command, conversation, language, after, text, action string) (any, error) {
	needConversation := func() error {
		if conversation == "" {
			return fmt.Errorf("%s needs -conversation: %w", command, errUsage)
		}
		return nil
	}

	switch agent.Command(command) {
	case agent.CommandStart:
		return client.Create(ctx, language)
	case agent.CommandResume:
		if err := needConversation(); err != nil {
			return nil, err
		}
		return client.Resume(ctx, conversation, language)
	case agent.CommandPoll:
		if err := needConversation(); err != nil {
			return nil, err
		}
		return client.Poll(ctx, conversation, after)
	case agent.CommandPost:
		if err := needConversation(); err != nil {
			return nil, err
		}
		if action != "" {
			return client.Post(ctx, conversation, agent.ActionLink(action))
		}
		return client.Post(ctx, conversation, agent.Text(text))
	case agent.CommandTyping:
		if err := needConversation(); err != nil {
			return nil, err
		}
		return client.Ping(ctx, conversation)
	case agent.CommandDelete:
		if err := needConversation(); err != nil {
			return nil, err
		}
		return client.Remove(ctx, conversation)
	default:
		return nil, errUsage
	}
}

func printResult(logger zerolog.Logger, result any) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to encode result")
	}
	fmt.Println(string(data))
}
