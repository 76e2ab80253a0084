package sessionload

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"regexp"
	"strings"

	. "github.com/dave/jennifer/jen"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v2"
)

const (
	labelsFile    = "labels.go"
	runConfigsDir = "run_configs"
	libImportPath = "github.com/skudasov/sessionload"
	libName       = "sessionload"
)

var handleLabelRe = regexp.MustCompile(`(\w+)Label\s*=\s*"(\w+)"`)

// LabelKV is one handle constant of labels.go
type LabelKV struct {
	Label     string
	LabelName string
}

func NewLabelName(label string) string {
	return strcase.ToCamel(label + "Label")
}

func NewTasksFuncName(label string) string {
	return strcase.ToCamel(label + "Tasks")
}

func NewPacingVarName(label string) string {
	return strcase.ToCamel(label + "Pacing")
}

// CollectLabels reads handle labels declared in labels.go, a missing file means no labels
func CollectLabels(dir string) ([]LabelKV, error) {
	data, err := ioutil.ReadFile(path.Join(dir, labelsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	labels := make([]LabelKV, 0)
	for _, m := range handleLabelRe.FindAllStringSubmatch(string(data), -1) {
		labels = append(labels, LabelKV{Label: m[2], LabelName: m[1] + "Label"})
	}
	return labels, nil
}

// CodegenLabelsFile generates labels.go with a constant for every handle:
//
//	const (
//		SessionLabel = "session"
//	)
func CodegenLabelsFile(dir string, packageName string, labels []LabelKV) error {
	f := NewFile(packageName)
	defs := make([]Code, 0, len(labels))
	for _, kv := range labels {
		defs = append(defs, Id(kv.LabelName).Op("=").Lit(kv.Label))
	}
	f.Const().Defs(defs...)
	return f.Save(path.Join(dir, labelsFile))
}

// CodegenAttackersFile generates the handle factory, every handle is a monitored HTTPUser:
//
//	func AttackerFromName(name string) sessionload.Attack {
//		switch name {
//		case SessionLabel:
//			return sessionload.WithCSVMonitor(sessionload.WithMonitor(sessionload.NewHTTPUser(...)))
//		default:
//			return nil
//		}
//	}
func CodegenAttackersFile(dir string, packageName string, labels []LabelKV) error {
	cases := make([]Code, 0, len(labels)+1)
	for _, l := range labels {
		user := Qual(libImportPath, "NewHTTPUser").Call(
			Qual(libImportPath, "MustTaskSet").Call(Id(NewTasksFuncName(l.Label)).Call().Op("...")),
			Id(NewPacingVarName(l.Label)),
		)
		cases = append(cases, Case(Id(l.LabelName)).Block(
			Return(Qual(libImportPath, "WithCSVMonitor").Call(Qual(libImportPath, "WithMonitor").Call(user))),
		))
	}
	cases = append(cases, Default().Block(Return(Nil())))

	f := NewFile(packageName)
	f.ImportNames(map[string]string{libImportPath: libName})
	f.Func().Id("AttackerFromName").Params(
		Id("name").Id("string"),
	).Qual(libImportPath, "Attack").Block(
		Switch(Id("name")).Block(cases...),
	)
	return f.Save(path.Join(dir, "attackers.go"))
}

// CodegenTasksFile generates a weighted task skeleton for a new handle:
//
//	var NewHandlePacing = sessionload.NoWait
//
//	func NewHandleTasks() []sessionload.Task {
//		return []sessionload.Task{{Name: "new_handle", Weight: 1, Build: ...}}
//	}
func CodegenTasksFile(dir string, packageName string, label string) error {
	f := NewFile(packageName)
	f.ImportNames(map[string]string{libImportPath: libName})
	f.Var().Id(NewPacingVarName(label)).Op("=").Qual(libImportPath, "NoWait")
	build := Func().Params(Id("rnd").Qual(libImportPath, "Rand")).Qual(libImportPath, "Request").Block(
		Return(Qual(libImportPath, "Request").Values(Dict{
			Id("Method"): Lit("GET"),
			Id("Path"):   Lit("/" + label),
		})),
	)
	f.Func().Id(NewTasksFuncName(label)).Params().Index().Qual(libImportPath, "Task").Block(
		Return(Index().Qual(libImportPath, "Task").Values(
			Values(Dict{
				Id("Name"):   Lit(label),
				Id("Weight"): Lit(1),
				Id("Build"):  build,
			}),
		)),
	)
	return f.Save(path.Join(dir, label+"_tasks.go"))
}

// GenerateSingleRunConfig writes a short users mode suite to debug one handle
func GenerateSingleRunConfig(dir string, label string) error {
	runCfgPath := path.Join(dir, runConfigsDir)
	if err := os.MkdirAll(runCfgPath, os.ModePerm); err != nil {
		return err
	}
	return WriteSuiteConfig(path.Join(runCfgPath, label+".yaml"), DefaultSuiteConfig(label))
}

// WriteSuiteConfig writes cfg as suite yaml
func WriteSuiteConfig(filename string, cfg *SuiteConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal suite config: %w", err)
	}
	return ioutil.WriteFile(filename, data, 0644)
}

// DefaultSuiteConfig is a one step suite with one users mode handle
func DefaultSuiteConfig(label string) *SuiteConfig {
	return &SuiteConfig{
		HttpTimeout: 20,
		Steps: []Step{
			{
				Name:          "load",
				ExecutionMode: SequenceMode,
				Handles: []RunnerConfig{
					{
						HandleName:    label,
						Mode:          UsersMode,
						Users:         10,
						SpawnRate:     10,
						AttackTimeSec: 30,
						DoTimeoutSec:  5,
						Verbose:       true,
					},
				},
			},
		},
	}
}

// GenerateNewTestCommand adds a handle to the load scripts package
func GenerateNewTestCommand(dir string, label string) error {
	if label == "" || strcase.ToSnake(label) != label {
		return fmt.Errorf("label must be snake_case, got %q", label)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	labels, err := CollectLabels(dir)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if l.Label == label {
			return fmt.Errorf("handle %s already exists", label)
		}
	}
	labels = append(labels, LabelKV{Label: label, LabelName: NewLabelName(label)})
	packageName := path.Base(strings.TrimRight(dir, "/"))
	if err := CodegenAttackersFile(dir, packageName, labels); err != nil {
		return err
	}
	if err := CodegenLabelsFile(dir, packageName, labels); err != nil {
		return err
	}
	if err := CodegenTasksFile(dir, packageName, label); err != nil {
		return err
	}
	return GenerateSingleRunConfig(dir, label)
}
