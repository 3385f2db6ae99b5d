package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"pipelinecrm/config"
	"pipelinecrm/utils"
)

// LeadFinderController implements AI-assisted lead discovery: a web
// search for companies in an industry/location, then one language-model
// prompt that distills the results into structured suggestions.
type LeadFinderController struct {
	Logger     *log.Logger
	HTTPClient *http.Client

	// Overridable in tests
	SearchAPIURL string
	ModelAPIURL  string
}

func NewLeadFinderController(logger *log.Logger) *LeadFinderController {
	return &LeadFinderController{
		Logger:       logger,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		SearchAPIURL: config.AppConfig.LeadFinder.SearchAPIURL,
		ModelAPIURL:  config.AppConfig.LeadFinder.ModelAPIURL,
	}
}

type DiscoverLeadsRequest struct {
	Industry string `json:"industry" validate:"required"`
	Location string `json:"location"`
	Count    int    `json:"count" validate:"omitempty,min=1,max=25"`
}

// LeadSuggestion is one company proposed by the model
type LeadSuggestion struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Industry string `json:"industry"`
	Reason   string `json:"reason"`
}

func (lc *LeadFinderController) DiscoverLeads(c *fiber.Ctx) error {
	var req DiscoverLeadsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	if req.Count == 0 {
		req.Count = 5
	}

	searchResults, err := lc.search(req)
	if err != nil {
		lc.Logger.Printf("Search API error: %v", err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Lead search failed", err)
	}

	suggestions, err := lc.extractLeads(req, searchResults)
	if err != nil {
		lc.Logger.Printf("Model API error: %v", err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Lead extraction failed", err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"suggestions": suggestions,
	})
}

// search queries the web search API and returns result snippets
func (lc *LeadFinderController) search(req DiscoverLeadsRequest) ([]string, error) {
	query := fmt.Sprintf("%s companies", req.Industry)
	if req.Location != "" {
		query += " in " + req.Location
	}

	searchURL := lc.SearchAPIURL + "?q=" + url.QueryEscape(query)
	httpReq, err := http.NewRequest(http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", config.AppConfig.LeadFinder.SearchAPIKey)

	resp, err := lc.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	var snippets []string
	for _, r := range result.Web.Results {
		snippets = append(snippets, fmt.Sprintf("%s (%s): %s", r.Title, r.URL, r.Description))
	}
	if len(snippets) == 0 {
		return nil, fmt.Errorf("search returned no results for %q", query)
	}
	return snippets, nil
}

// extractLeads asks the model to turn search snippets into structured
// company suggestions and parses the JSON array out of its reply.
func (lc *LeadFinderController) extractLeads(req DiscoverLeadsRequest, snippets []string) ([]LeadSuggestion, error) {
	prompt := fmt.Sprintf(
		"From the following search results, extract up to %d companies in the %s industry. "+
			"Reply with only a JSON array of objects with keys name, domain, industry, reason.\n\n%s",
		req.Count, req.Industry, strings.Join(snippets, "\n"))

	payload, err := json.Marshal(map[string]interface{}{
		"model": config.AppConfig.LeadFinder.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, lc.ModelAPIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+config.AppConfig.LeadFinder.ModelAPIKey)

	resp, err := lc.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model API returned %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	return parseSuggestions(completion.Choices[0].Message.Content)
}

// parseSuggestions pulls the JSON array out of the model reply, which
// may be wrapped in markdown fences or surrounding prose.
func parseSuggestions(content string) ([]LeadSuggestion, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in model reply")
	}

	var suggestions []LeadSuggestion
	if err := json.Unmarshal([]byte(content[start:end+1]), &suggestions); err != nil {
		return nil, fmt.Errorf("parsing model reply: %w", err)
	}
	return suggestions, nil
}
