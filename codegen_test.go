package sessionload

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/dave/jennifer/jen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodegen(t *testing.T) {
	f := NewFile("load")
	f.Func().Id("AttackerFromName").Params(
		Id("name").Id("string"),
	).Qual(libImportPath, "Attack").Block(
		Switch(Id("name")).Block(
			Case(Id("SessionLabel")).Block(
				Return(Qual(libImportPath, "WithMonitor").Call(Id("user"))),
			),
			Default().Block(
				Return(Nil()),
			),
		),
	)
	src := fmt.Sprintf("%#v", f)
	assert.Contains(t, src, "sessionload.WithMonitor(user)")
	assert.Contains(t, src, `sessionload "github.com/skudasov/sessionload"`)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "UserCreateLabel", NewLabelName("user_create"))
	assert.Equal(t, "UserCreateTasks", NewTasksFuncName("user_create"))
	assert.Equal(t, "UserCreatePacing", NewPacingVarName("user_create"))
}

func TestGenerateNewTestCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "load")
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, labelsFile), []byte("package load\n\nconst (\n\tSessionLabel = \"session\"\n)\n"), 0644))

	require.NoError(t, GenerateNewTestCommand(dir, "user_create"))

	labels, err := CollectLabels(dir)
	require.NoError(t, err)
	assert.Equal(t, []LabelKV{
		{Label: "session", LabelName: "SessionLabel"},
		{Label: "user_create", LabelName: "UserCreateLabel"},
	}, labels)

	attackers, err := ioutil.ReadFile(filepath.Join(dir, "attackers.go"))
	require.NoError(t, err)
	assert.Contains(t, string(attackers), "case SessionLabel:")
	assert.Contains(t, string(attackers), "SessionTasks()...")
	assert.Contains(t, string(attackers), "UserCreatePacing")

	tasks, err := ioutil.ReadFile(filepath.Join(dir, "user_create_tasks.go"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(tasks), "package load"))
	assert.Contains(t, string(tasks), "func UserCreateTasks() []sessionload.Task")
	assert.Contains(t, string(tasks), `"/user_create"`)

	suite, err := LoadSuiteConfig(filepath.Join(dir, runConfigsDir, "user_create.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "user_create", suite.Steps[0].Handles[0].HandleName)

	assert.Error(t, GenerateNewTestCommand(dir, "user_create"), "duplicate handle")
	assert.Error(t, GenerateNewTestCommand(dir, "UserCreate"), "not snake case")
}
