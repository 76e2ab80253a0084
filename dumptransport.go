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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

const HTTPBodyDelimiter = "\r\n\r\n"

// DumpTransport logs http request/responses at debug level, pprint json bodies
type DumpTransport struct {
	r http.RoundTripper
}

func (d *DumpTransport) RoundTrip(h *http.Request) (*http.Response, error) {
	dump, _ := httputil.DumpRequestOut(h, true)
	L().Debugf("========== REQUEST ==========\n%s", d.pretty(dump, bodyIsJson(h.Header)))
	resp, err := d.r.RoundTrip(h)
	if err != nil {
		L().Debugf("========== RESPONSE ==========\n%s", err)
		return nil, err
	}
	dump, _ = httputil.DumpResponse(resp, true)
	L().Debugf("========== RESPONSE ==========\n%s", d.pretty(dump, bodyIsJson(resp.Header)))
	return resp, nil
}

// pretty returns http format message with indented json body, as is if body is not json
func (d *DumpTransport) pretty(b []byte, isJson bool) string {
	s := string(b)
	if !isJson {
		return s
	}
	sp := strings.SplitN(s, HTTPBodyDelimiter, 2)
	if len(sp) != 2 {
		return s
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(sp[1]), "", "    "); err != nil {
		return s
	}
	return sp[0] + HTTPBodyDelimiter + out.String()
}

// NewLoggingHTTPClient creates a pooled client shared by simulated users, dumps traffic if debug
func NewLoggingHTTPClient(debug bool, timeout time.Duration, maxConnsPerHost int) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxConnsPerHost > 0 {
		t.MaxIdleConns = maxConnsPerHost
		t.MaxConnsPerHost = maxConnsPerHost
		t.MaxIdleConnsPerHost = maxConnsPerHost
	}
	var transport http.RoundTripper = t
	if debug {
		transport = &DumpTransport{t}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func bodyIsJson(h http.Header) bool {
	return strings.Contains(h.Get("content-type"), "application/json")
}
