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

package main

import (
	"flag"

	"github.com/labstack/echo/v4/middleware"

	"github.com/skudasov/sessionload/mock_service/sessionstore"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	seeded := flag.Int64("seeded", sessionstore.DefaultSeeded, "number of seeded sessions, ids [0, seeded)")
	accessLog := flag.Bool("access_log", false, "log every request")
	flag.Parse()

	e := sessionstore.NewServer(*seeded)
	if *accessLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())
	e.Logger.Fatal(e.Start(*addr))
}
