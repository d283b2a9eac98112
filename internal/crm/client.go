package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	errx "github.com/IvanShepeta/CRMconnector/internal/core/error"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// Config holds CRM connection parameters, sourced from the environment.
type Config struct {
	URL      string `envconfig:"CRM_URL" required:"true"`
	Username string `envconfig:"CRM_USERNAME"`
	Password string `envconfig:"CRM_PASSWORD"`
	Timeout  int    `envconfig:"CRM_TIMEOUT" default:"15"`
}

// Course is the normalized course record exposed to the agent tools.
type Course struct {
	Code        string  `json:"code"`
	Name        string  `json:"name_ua"`
	Price       float64 `json:"price"`
	Hours       float64 `json:"hours"`
	URL         string  `json:"url"`
	Description string  `json:"description,omitempty"`
}

// courseRecord mirrors the raw OData product row.
type courseRecord struct {
	ProductNumber string  `json:"productnumber"`
	NameUA        string  `json:"new_nameua"`
	ProductURL    string  `json:"producturl"`
	Abstract      string  `json:"new_abstractua"`
	Hours         float64 `json:"new_hours"`
	PriceBase     float64 `json:"price_base"`
}

// odataEnvelope is the standard OData collection response.
type odataEnvelope struct {
	Value []courseRecord `json:"value"`
}

// Client is a thin REST-to-JSON proxy over the CRM's OData endpoint. One
// request per call, no caching, no retries.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// activeFilter excludes stock items and rows with no localized name,
// matching how the CRM marks live courses.
const activeFilter = "isstockitem eq false and new_nameua ne null"

// ActiveCourses lists currently offered courses, optionally narrowed by a
// name substring.
func (c *Client) ActiveCourses(ctx context.Context, search string, limit int) ([]Course, error) {
	if limit <= 0 {
		limit = 10
	}
	filter := activeFilter
	if search != "" {
		filter += fmt.Sprintf(" and contains(new_nameua,'%s')", escapeODataLiteral(search))
	}
	params := url.Values{}
	params.Set("$filter", filter)
	params.Set("$select", "productnumber,new_nameua,producturl,new_abstractua,new_hours,price_base")
	params.Set("$orderby", "new_nameua asc")
	params.Set("$top", fmt.Sprint(limit))

	return c.query(ctx, "products", params)
}

// SearchCourses matches keywords against course names and descriptions.
func (c *Client) SearchCourses(ctx context.Context, query string, limit int) ([]Course, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	q := escapeODataLiteral(query)
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf(
		"(contains(new_nameua,'%s') or contains(new_abstractua,'%s')) and isstockitem eq false", q, q))
	params.Set("$select", "productnumber,new_nameua,producturl,new_hours,price_base")
	params.Set("$top", fmt.Sprint(limit))

	return c.query(ctx, "products", params)
}

// CourseByCode looks up one course by its exact product number. Returns
// (nil, nil) when the code is unknown.
func (c *Client) CourseByCode(ctx context.Context, code string) (*Course, error) {
	if code == "" {
		return nil, fmt.Errorf("course code is required")
	}
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("productnumber eq '%s' and isstockitem eq false", escapeODataLiteral(code)))
	params.Set("$select", "productnumber,new_nameua,producturl,new_abstractua,new_hours,price_base")

	courses, err := c.query(ctx, "products", params)
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return nil, nil
	}
	return &courses[0], nil
}

func (c *Client) query(ctx context.Context, entity string, params url.Values) ([]Course, error) {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, entity, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logx.Error().Err(err).Str("entity", entity).Msg("crm request failed")
		return nil, errx.New(err, http.StatusBadGateway, errx.CRMErrorMessage)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("crm responded with status %d", resp.StatusCode)
		logx.Error().Err(err).Str("entity", entity).Msg("crm request rejected")
		return nil, errx.New(err, http.StatusBadGateway, errx.CRMErrorMessage)
	}

	var envelope odataEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode crm response: %w", err)
	}

	courses := make([]Course, 0, len(envelope.Value))
	for _, rec := range envelope.Value {
		courses = append(courses, Course{
			Code:        rec.ProductNumber,
			Name:        rec.NameUA,
			Price:       rec.PriceBase,
			Hours:       rec.Hours,
			URL:         rec.ProductURL,
			Description: truncate(rec.Abstract, 200),
		})
	}
	return courses, nil
}

// escapeODataLiteral doubles single quotes per the OData string literal rules.
func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
