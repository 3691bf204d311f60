package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/langboard/botengine/internal/domain/models"
)

var ErrUnknownPlatform = errors.New("unknown bot platform")

// Settings are the deployment URLs a request may point at.
type Settings struct {
	DefaultFlowsURL string
	OllamaAPIURL    string
	APIBaseURL      string
}

// Input is everything a request is derived from.
type Input struct {
	Bot       *models.Bot
	Event     models.Event
	ProjectID *models.SnowflakeID
	LogID     models.SnowflakeID
}

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    map[string]interface{}
}

func (r *Request) Payload() ([]byte, error) {
	return json.Marshal(r.Body)
}

type builder func(s Settings, in Input) (*Request, error)

type platformKey struct {
	platform    models.BotPlatform
	runningType models.BotPlatformRunningType
}

var builders = map[platformKey]builder{
	{models.BotPlatformDefault, models.BotRunningTypeDefault}:   buildDefault,
	{models.BotPlatformLangflow, models.BotRunningTypeEndpoint}: buildLangflowEndpoint,
	{models.BotPlatformLangflow, models.BotRunningTypeFlowJSON}: buildLangflowFlowJSON,
	{models.BotPlatformN8N, models.BotRunningTypeDefault}:       buildN8N,
}

// successTypes is the frame type of a 2xx reply. Info means the reply only
// acknowledges a flow that reports on its own.
var successTypes = map[platformKey]models.BotLogType{
	{models.BotPlatformDefault, models.BotRunningTypeDefault}:   models.BotLogInfo,
	{models.BotPlatformLangflow, models.BotRunningTypeFlowJSON}: models.BotLogInfo,
	{models.BotPlatformLangflow, models.BotRunningTypeEndpoint}: models.BotLogSuccess,
	{models.BotPlatformN8N, models.BotRunningTypeDefault}:       models.BotLogSuccess,
}

func keyOf(bot *models.Bot) platformKey {
	return platformKey{bot.Platform, bot.PlatformRunningType}
}

// SuccessType returns the frame type logged when bot answers with 2xx.
func SuccessType(bot *models.Bot) models.BotLogType {
	if t, ok := successTypes[keyOf(bot)]; ok {
		return t
	}
	return models.BotLogSuccess
}

// BuildRequest selects the request shape for the bot's platform pair.
func BuildRequest(s Settings, in Input) (*Request, error) {
	build, ok := builders[keyOf(in.Bot)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPlatform, in.Bot.Platform, in.Bot.PlatformRunningType)
	}
	return build(s, in)
}

func buildDefault(s Settings, in Input) (*Request, error) {
	tweaks, err := defaultTweaks(s, in.Bot.Value)
	if err != nil {
		return nil, err
	}
	tweaks["LangboardCalledVariables"] = calledVariables(s, in)
	return &Request{
		Method: http.MethodPost,
		URL:    webhookURL(s, in.Bot),
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: flowBody(in, tweaks),
	}, nil
}

func buildLangflowEndpoint(s Settings, in Input) (*Request, error) {
	return &Request{
		Method:  http.MethodPost,
		URL:     strings.TrimRight(in.Bot.APIURL, "/") + "/" + strings.TrimLeft(in.Bot.Value, "/"),
		Headers: langflowHeaders(in.Bot),
		Body:    flowBody(in, map[string]interface{}{"LangboardCalledVariables": calledVariables(s, in)}),
	}, nil
}

func buildLangflowFlowJSON(s Settings, in Input) (*Request, error) {
	return &Request{
		Method:  http.MethodPost,
		URL:     webhookURL(s, in.Bot),
		Headers: langflowHeaders(in.Bot),
		Body:    flowBody(in, map[string]interface{}{"LangboardCalledVariables": calledVariables(s, in)}),
	}, nil
}

func buildN8N(s Settings, in Input) (*Request, error) {
	body := map[string]interface{}{
		"input_value": "",
		"run_type":    "bot",
		"uid":         in.Bot.ID.ShortCode(),
		"log_uid":     in.LogID.ShortCode(),
		"tweaks":      map[string]interface{}{"LangboardCalledVariables": calledVariables(s, in)},
	}
	if in.ProjectID != nil {
		body["project_uid"] = in.ProjectID.ShortCode()
	}
	return &Request{
		Method: http.MethodPost,
		URL:    in.Bot.APIURL,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": in.Bot.APIKey,
		},
		Body: body,
	}, nil
}

func webhookURL(s Settings, bot *models.Bot) string {
	return strings.TrimRight(s.DefaultFlowsURL, "/") + "/api/v1/webhook/" + bot.ID.ShortCode()
}

func langflowHeaders(bot *models.Bot) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"X-API-KEY":    bot.APIKey,
	}
}

func flowBody(in Input, tweaks map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"session_id": SessionID(in.Bot.ID, in.ProjectID),
		"run_type":   "bot",
		"uid":        in.Bot.ID.ShortCode(),
		"log_uid":    in.LogID.ShortCode(),
		"tweaks":     tweaks,
	}
	if in.ProjectID != nil {
		body["project_uid"] = in.ProjectID.ShortCode()
	}
	return body
}

// SessionID is "<bot>-<project>", or the bot uid alone outside a project.
func SessionID(botID models.SnowflakeID, projectID *models.SnowflakeID) string {
	project := ""
	if projectID != nil {
		project = projectID.ShortCode()
	}
	return strings.TrimSuffix(botID.ShortCode()+"-"+project, "-")
}

func calledVariables(s Settings, in Input) map[string]interface{} {
	rest := in.Event.Payload
	if rest == nil {
		rest = models.JSON{}
	}
	vars := map[string]interface{}{
		"event":                   in.Event.Kind,
		"app_api_token":           in.Bot.AppAPIToken,
		"current_runner_type":     "bot",
		"current_runner_data":     in.Event.Actor,
		"rest_data":               rest,
		"base_url":                s.APIBaseURL,
		"custom_markdown_formats": CustomMarkdownFormats(),
	}
	if in.ProjectID != nil {
		vars["project_uid"] = in.ProjectID.ShortCode()
	}
	return vars
}

// defaultTweaks maps a Default bot's settings onto the flow components.
// agent_llm picks the component; system_prompt feeds the Prompt component.
func defaultTweaks(s Settings, raw string) (map[string]interface{}, error) {
	value := map[string]interface{}{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode bot value: %w", err)
		}
	}

	prompt, _ := value["system_prompt"].(string)
	delete(value, "system_prompt")

	component := "Agent"
	switch llm, _ := value["agent_llm"].(string); llm {
	case "Ollama", "LM Studio":
		component = llm
		delete(value, "agent_llm")
	}
	if component == "Ollama" && value["base_url"] == "default" {
		value["base_url"] = s.OllamaAPIURL
	}

	return map[string]interface{}{
		component: value,
		"Prompt":  map[string]interface{}{"prompt": prompt},
	}, nil
}
