/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package sessionload

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGeneratorYaml = `
generator:
  target: http://127.0.0.1:8081
  responseTimeoutSec: 7
logging:
  level: debug
  encoding: json
report_dir: %s
`

const testSuiteYaml = `
http_timeout: 3
steps:
  - name: session
    execution_mode: parallel
    handles:
      - name: session
        users: 10
        spawn_rate: 5
        attack_time_sec: 30
        stop_if:
          - type: error
            threshold: 0.1
            interval: 2
      - name: stats
        mode: rps
        rps: 100
        attack_time_sec: 30
        ramp_up_sec: 10
        max_attackers: 20
        ramp_up_strategy: linear
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := ioutil.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadGeneratorConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "generator.yaml", strings.Replace(testGeneratorYaml, "%s", filepath.Join(dir, "reports"), 1))
	defer SetLogger(mustLogger("info", "console").Desugar())
	c, err := LoadDefaultGeneratorConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Generator.Target, "http://127.0.0.1:8081"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := c.Generator.ResponseTimeoutSec, 7; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := c.Generator.RampUpStrategy, "exp2"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := c.HandleThresholdPercent, 1.2; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := c.Logging.Encoding, "json"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestGeneratorConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "generator.yaml", strings.Replace(testGeneratorYaml, "%s", filepath.Join(dir, "reports"), 1))
	os.Setenv("SESSIONLOAD_GENERATOR_TARGET", "http://10.0.0.1:80")
	defer os.Unsetenv("SESSIONLOAD_GENERATOR_TARGET")
	defer SetLogger(mustLogger("info", "console").Desugar())
	c, err := LoadDefaultGeneratorConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Generator.Target, "http://10.0.0.1:80"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestInvalidGeneratorConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "generator.yaml", "generator:\n  target: localhost\nlogging:\n  encoding: xml\n")
	_, err := LoadDefaultGeneratorConfig(p)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"absolute url", "logging encoding"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadSuiteConfig(t *testing.T) {
	p := writeFile(t, t.TempDir(), "suite.yaml", testSuiteYaml)
	c, err := LoadSuiteConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.HttpTimeout, 3; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	handles := c.Steps[0].Handles
	if got, want := len(handles), 2; got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	users := handles[0]
	if got, want := users.Mode, UsersMode; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := users.DoTimeoutSec, defaultDoTimeoutSec; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := users.StopIf[0].Threshold, 0.1; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	rps := handles[1]
	if got, want := rps.Mode, RPSMode; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if got, want := rps.rampupStrategy(), "linear"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestLoadSuiteConfigInvalid(t *testing.T) {
	p := writeFile(t, t.TempDir(), "suite.yaml", `
steps:
  - name: broken
    execution_mode: sometimes
    handles:
      - name: session
        mode: rps
        rps: 10
        attack_time_sec: 5
        ramp_up_sec: 5
`)
	_, err := LoadSuiteConfig(p)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"execution_mode", "ramp up time lower", "maximum number of attackers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRunnerConfigValidate(t *testing.T) {
	c := RunnerConfig{HandleName: "session", Users: 1, AttackTimeSec: 1}.WithDefaults()
	if msgs := c.Validate(); len(msgs) != 0 {
		t.Fatalf("unexpected problems: %v", msgs)
	}
	c.Mode = "closed"
	if msgs := c.Validate(); len(msgs) != 1 {
		t.Fatalf("got %v want one problem", msgs)
	}
	if got, want := (RunnerConfig{}).WithDefaults().SpawnRate, defaultSpawnRate; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}
