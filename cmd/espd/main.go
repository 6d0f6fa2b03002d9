package main

import (
	"encoding/json"
	"flag"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/espkit/esp"
	"github.com/espkit/esp/extensions/bbolt"
	"github.com/espkit/esp/extensions/jwt"
)

var config = struct {
	esp.Config

	BindAddress string
	Extensions  map[string][]interface{}
}{}

var extensions = map[string]interface{}{
	"bbolt": bbolt.New,
	"jwt":   jwt.New,
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// tryCreate calls an extension constructor with the raw arguments from
// the config file. Maps are decoded into the matching struct argument
// and json numbers are converted to the expected numeric kind.
func tryCreate(fn interface{}, args []interface{}) (esp.Extension, error) {
	fnType := reflect.TypeOf(fn)
	fnValue := reflect.ValueOf(fn)

	if fnType.Kind() != reflect.Func {
		return nil, errors.New("fn wasn't a function")
	}

	if fnType.NumIn() != len(args) {
		return nil, errors.Errorf("arguments doesn't match. got=%d expected=%d", len(args), fnType.NumIn())
	}

	if fnType.NumOut() != 2 || !fnType.Out(1).Implements(errType) {
		return nil, errors.New("fn doesn't return a error as second value")
	}

	var callValues []reflect.Value
	for i := range args {
		argType := reflect.TypeOf(args[i])

		if argType == nil {
			switch fnType.In(i).Kind() {
			case reflect.Ptr, reflect.Uintptr, reflect.Map, reflect.Slice:
				callValues = append(callValues, reflect.New(fnType.In(i)).Elem())
				continue
			}

			return nil, errors.Errorf("argument %d can't be null", i+1)
		}

		if fnType.In(i).Kind() == reflect.Struct && argType.Kind() == reflect.Map {
			s := reflect.New(fnType.In(i))
			if err := mapstructure.Decode(args[i], s.Interface()); err != nil {
				return nil, err
			}

			callValues = append(callValues, s.Elem())
			continue
		}

		if fnType.In(i).Kind() != argType.Kind() {
			if argType.Kind() == reflect.Float64 {
				switch fnType.In(i).Kind() {
				case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
					reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
					reflect.Float32:
					callValues = append(callValues, reflect.ValueOf(args[i]).Convert(fnType.In(i)))
					continue
				}
			}

			return nil, errors.Errorf("mismatching argument type of %d. argument. got=%s expected=%s", i+1, argType.Kind().String(), fnType.In(i).Kind().String())
		}

		callValues = append(callValues, reflect.ValueOf(args[i]))
	}

	res := fnValue.Call(callValues)
	if err, ok := res[1].Interface().(error); ok && err != nil {
		return nil, err
	}

	return res[0].Interface().(esp.Extension), nil
}

func main() {
	// --config flag to define the config file.
	configFile := flag.String("config", "./config.json", "config for the instance")
	flag.Parse()

	// Read and unmarshal the config file.
	data, err := ioutil.ReadFile(*configFile)
	if err != nil {
		log.Fatalf("Error while reading config: %v\n", err)
	}

	if err := json.Unmarshal(data, &config); err != nil {
		log.Fatalf("Error while parsing config: %v\n", err)
	}

	// Create the esp server instance.
	server := esp.New(&config.Config)

	// Dynamically load the extensions.
	for name, conf := range config.Extensions {
		ctor, ok := extensions[name]
		if !ok {
			log.Fatalf("Extension '%s' not found\n", name)
		}

		ext, err := tryCreate(ctor, conf)
		if err != nil {
			log.Fatalf("Error while building extension: %v\n", err)
		}

		if err := server.AddExtension(ext); err != nil {
			log.Fatalf("Error while adding extension: %v\n", err)
		}
	}

	// Start the esp server.
	go func() {
		if err := server.Start(config.BindAddress); err != nil {
			log.Printf("Server stopped: %v\n", err)
		}
	}()

	// Wait for interrupt.
	quit := make(chan os.Signal, 10)
	signal.Notify(quit, os.Interrupt)
	<-quit

	// Shut down server.
	if err := server.Shutdown(); err != nil {
		log.Printf("Error while shutting down server: %v\n", err)
	}
}
