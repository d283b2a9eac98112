package crm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// Tool names exposed to the agent.
const (
	ToolSearchCourses    = "search_courses"
	ToolGetActiveCourses = "get_active_courses"
	ToolGetCourseByCode  = "get_course_by_code"
)

type userIDKey struct{}

// WithUserID tags a context with the user on whose behalf tools run, so the
// course-detail tool can record viewed courses.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the tagged user, if any.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// ===================================
// Search Courses Tool
// ===================================

type SearchCoursesInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchCoursesOutput struct {
	Courses []Course `json:"courses"`
	Total   int      `json:"total"`
}

func createSearchCoursesTool(client *Client) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchCourses,
			Desc: "Search training courses by keywords in the name or description. Use this tool whenever the customer asks about a topic, technology or course name.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Search keywords, e.g. Python, Kubernetes, project management.",
					Required: true,
				},
				"limit": {
					Type: "number",
					Desc: "Maximum number of results to return (default: 20)",
				},
			}),
		},
		func(ctx context.Context, in *SearchCoursesInput) (*SearchCoursesOutput, error) {
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			courses, err := client.SearchCourses(ctx, in.Query, in.Limit)
			if err != nil {
				return nil, err
			}
			return &SearchCoursesOutput{Courses: courses, Total: len(courses)}, nil
		},
	)
}

// ===================================
// Active Courses Tool
// ===================================

type ActiveCoursesInput struct {
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ActiveCoursesOutput struct {
	Courses []Course `json:"courses"`
	Total   int      `json:"total"`
}

func createActiveCoursesTool(client *Client) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetActiveCourses,
			Desc: "List currently offered courses with code, name, price, duration and link. Use this for a general overview of what is available.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"search": {
					Type: "string",
					Desc: "Optional name filter.",
				},
				"limit": {
					Type: "number",
					Desc: "Maximum number of courses to return (default: 10)",
				},
			}),
		},
		func(ctx context.Context, in *ActiveCoursesInput) (*ActiveCoursesOutput, error) {
			courses, err := client.ActiveCourses(ctx, in.Search, in.Limit)
			if err != nil {
				return nil, err
			}
			return &ActiveCoursesOutput{Courses: courses, Total: len(courses)}, nil
		},
	)
}

// ===================================
// Course By Code Tool
// ===================================

type CourseByCodeInput struct {
	Code string `json:"code"`
}

type CourseByCodeOutput struct {
	Found  bool    `json:"found"`
	Course *Course `json:"course,omitempty"`
}

func createCourseByCodeTool(client *Client, contexts store.ContextStore) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetCourseByCode,
			Desc: "Get full details of one course by its exact code (product number). Use this when the customer refers to a specific course code.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"code": {
					Type:     "string",
					Desc:     "Exact course code, e.g. PY-101.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *CourseByCodeInput) (*CourseByCodeOutput, error) {
			if in.Code == "" {
				return nil, fmt.Errorf("code is required")
			}
			course, err := client.CourseByCode(ctx, in.Code)
			if err != nil {
				return nil, err
			}
			if course == nil {
				return &CourseByCodeOutput{Found: false}, nil
			}

			if userID := UserIDFromContext(ctx); userID != "" && contexts != nil {
				if err := contexts.AddViewedCourse(ctx, userID, course.Code); err != nil {
					logx.Warn().Err(err).Str("user_id", userID).Str("code", course.Code).
						Msg("failed to record viewed course")
				}
			}
			return &CourseByCodeOutput{Found: true, Course: course}, nil
		},
	)
}

// Tools assembles the CRM tool set bound to the agent's response model.
func Tools(client *Client, contexts store.ContextStore) []tool.InvokableTool {
	return []tool.InvokableTool{
		createSearchCoursesTool(client),
		createActiveCoursesTool(client),
		createCourseByCodeTool(client, contexts),
	}
}

// MarshalResult renders a tool output the way the fallback handler does, so
// error paths and success paths stay structurally similar for the model.
func MarshalResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("{\"error\":%q}", err.Error())
	}
	return string(b)
}
