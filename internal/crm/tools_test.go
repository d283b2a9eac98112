package crm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanShepeta/CRMconnector/internal/store"
)

func findTool(t *testing.T, tools []tool.InvokableTool, name string) tool.InvokableTool {
	t.Helper()
	for _, tl := range tools {
		info, err := tl.Info(context.Background())
		require.NoError(t, err)
		if info.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestTools_Names(t *testing.T) {
	client := newFakeCRM(t, nil, nil)
	tools := Tools(client, store.NewMemoryStore())
	require.Len(t, tools, 3)

	names := map[string]bool{}
	for _, tl := range tools {
		info, err := tl.Info(context.Background())
		require.NoError(t, err)
		names[info.Name] = true
	}
	assert.True(t, names[ToolSearchCourses])
	assert.True(t, names[ToolGetActiveCourses])
	assert.True(t, names[ToolGetCourseByCode])
}

func TestSearchCoursesTool(t *testing.T) {
	client := newFakeCRM(t, []courseRecord{pythonCourse}, nil)
	tl := findTool(t, Tools(client, store.NewMemoryStore()), ToolSearchCourses)

	out, err := tl.InvokableRun(context.Background(), `{"query":"python"}`)
	require.NoError(t, err)

	var result SearchCoursesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "PY-101", result.Courses[0].Code)
}

func TestCourseByCodeTool_RecordsViewedCourse(t *testing.T) {
	client := newFakeCRM(t, []courseRecord{pythonCourse}, nil)
	st := store.NewMemoryStore()
	tl := findTool(t, Tools(client, st), ToolGetCourseByCode)

	ctx := WithUserID(context.Background(), "42")
	out, err := tl.InvokableRun(ctx, `{"code":"PY-101"}`)
	require.NoError(t, err)

	var result CourseByCodeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.True(t, result.Found)
	assert.Equal(t, "PY-101", result.Course.Code)

	viewed, err := st.ViewedCourses(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"PY-101"}, viewed)
}

func TestCourseByCodeTool_AbsentCourse(t *testing.T) {
	client := newFakeCRM(t, nil, nil)
	st := store.NewMemoryStore()
	tl := findTool(t, Tools(client, st), ToolGetCourseByCode)

	out, err := tl.InvokableRun(WithUserID(context.Background(), "42"), `{"code":"NOPE"}`)
	require.NoError(t, err)

	var result CourseByCodeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Found)

	viewed, err := st.ViewedCourses(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, viewed, "missing courses are not recorded as viewed")
}

func TestCourseByCodeTool_NoUserInContext(t *testing.T) {
	client := newFakeCRM(t, []courseRecord{pythonCourse}, nil)
	st := store.NewMemoryStore()
	tl := findTool(t, Tools(client, st), ToolGetCourseByCode)

	// evaluation runs and ad hoc calls carry no user; lookup still works
	_, err := tl.InvokableRun(context.Background(), `{"code":"PY-101"}`)
	require.NoError(t, err)
}
