package esp

import (
	"bytes"
	"errors"
	"html"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/d5/tengo/objects"
	"github.com/d5/tengo/script"
)

// scriptInstance bundles everything a single page run needs. The page
// output is buffered so a script can still overwrite it or change the
// status code while it runs.
type scriptInstance struct {
	script     *script.Compiled
	buf        *bytes.Buffer
	req        *http.Request
	statusCode *int
	respWriter http.ResponseWriter
}

func valuesToObject(v url.Values) (*objects.Array, error) {
	var keys []objects.Object
	for key := range v {
		keyObj, err := objects.FromInterface(key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyObj)
	}
	return &objects.Array{Value: keys}, nil
}

func stopRequest() objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		return nil, requestedAbort
	}
}

func writeBody(w io.Writer) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) == 0 {
			return nil, objects.ErrWrongNumArguments
		}

		for i := range args {
			if text, ok := objects.ToString(args[i]); ok {
				if _, err := w.Write([]byte(text)); err != nil {
					return nil, err
				}
				continue
			}
			if _, err := w.Write([]byte(args[i].String())); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func overwriteBody(buf *bytes.Buffer) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) == 0 {
			return nil, objects.ErrWrongNumArguments
		}
		buf.Reset()
		return writeBody(buf)(interop, args...)
	}
}

func setStatusCode(code *int) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 1 {
			return nil, objects.ErrWrongNumArguments
		}

		if newCode, ok := objects.ToInt(args[0]); ok {
			*code = newCode
			return
		}

		return nil, errors.New("argument wasn't a int")
	}
}

func escapeHTML(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
	if len(args) == 0 {
		return nil, objects.ErrWrongNumArguments
	}

	var res string
	for i := range args {
		if e, ok := objects.ToString(args[i]); ok {
			res += html.EscapeString(e)
			continue
		}
		res += html.EscapeString(args[i].String())
	}

	return &objects.String{
		Value: res,
	}, nil
}

func paramLookup(v func(string) string) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 1 {
			return nil, objects.ErrWrongNumArguments
		}

		key, ok := objects.ToString(args[0])
		if !ok {
			return nil, errors.New("not a string")
		}

		return &objects.String{Value: v(key)}, nil
	}
}

func paramKeys(v func() url.Values) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 0 {
			return nil, objects.ErrWrongNumArguments
		}
		return valuesToObject(v())
	}
}

func headerKeys(r *http.Request) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 0 {
			return nil, objects.ErrWrongNumArguments
		}

		var keys []objects.Object
		for key := range r.Header {
			keyObj, err := objects.FromInterface(key)
			if err != nil {
				return nil, err
			}
			keys = append(keys, keyObj)
		}

		return &objects.Array{Value: keys}, nil
	}
}

func setHeader(w http.ResponseWriter) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 2 {
			return nil, objects.ErrWrongNumArguments
		}

		key, ok := objects.ToString(args[0])
		if !ok {
			return nil, errors.New("not a string")
		}

		if value, ok := objects.ToString(args[1]); ok {
			w.Header().Set(key, value)
		} else {
			w.Header().Set(key, args[1].String())
		}

		return nil, nil
	}
}

func getBody(r *http.Request) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 0 {
			return nil, objects.ErrWrongNumArguments
		}
		data, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return &objects.Bytes{Value: data}, nil
	}
}

func cookieToObject(cookie *http.Cookie) objects.Object {
	return &objects.ImmutableMap{
		Value: map[string]objects.Object{
			"value":   &objects.String{Value: cookie.Value},
			"name":    &objects.String{Value: cookie.Name},
			"path":    &objects.String{Value: cookie.Path},
			"domain":  &objects.String{Value: cookie.Domain},
			"max_age": &objects.Int{Value: int64(cookie.MaxAge)},
			"expires": &objects.Time{Value: cookie.Expires},
		},
	}
}

func getCookies(r *http.Request) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 0 {
			return nil, objects.ErrWrongNumArguments
		}

		var arr objects.Array
		for _, cookie := range r.Cookies() {
			arr.Value = append(arr.Value, cookieToObject(cookie))
		}

		return &arr, nil
	}
}

func getCookie(r *http.Request) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 1 {
			return nil, objects.ErrWrongNumArguments
		}

		key, ok := objects.ToString(args[0])
		if !ok {
			return nil, errors.New("not a string")
		}

		cookie, err := r.Cookie(key)
		if err != nil {
			return ToError(err), nil
		}

		return cookieToObject(cookie), nil
	}
}

func setCookie(resp http.ResponseWriter) objects.CallableFunc {
	return func(interop objects.Interop, args ...objects.Object) (ret objects.Object, err error) {
		if len(args) != 1 {
			return nil, objects.ErrWrongNumArguments
		}

		m := objects.ToInterface(args[0])
		cookieMap, ok := m.(map[string]interface{})
		if !ok {
			return nil, errors.New("not a cookie")
		}

		cookie := new(http.Cookie)
		if name, ok := cookieMap["name"].(string); ok {
			cookie.Name = name
		}

		if value, ok := cookieMap["value"].(string); ok {
			cookie.Value = value
		}

		if path, ok := cookieMap["path"].(string); ok {
			cookie.Path = path
		}

		if maxAge, ok := cookieMap["max_age"].(int64); ok {
			cookie.MaxAge = int(maxAge)
		}

		if expires, ok := cookieMap["expires"].(time.Time); ok {
			cookie.Expires = expires
		}

		http.SetCookie(resp, cookie)
		return nil, nil
	}
}

// bindGlobals sets the response and request objects on the compiled
// page script. The names themselves are declared by the cache setup, so
// clones only need a Set call per request.
func bindGlobals(si *scriptInstance) error {
	if err := si.script.Set("response", responseObject(si)); err != nil {
		return err
	}
	return si.script.Set("request", requestObject(si.req))
}

// responseObject is what the out init statement of served pages pulls
// the writer from: out := response.writer;
func responseObject(si *scriptInstance) objects.Object {
	return &objects.ImmutableMap{
		Value: map[string]objects.Object{
			"writer": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"write": &objects.UserFunction{
						Value: writeBody(si.buf),
					},
					"overwrite": &objects.UserFunction{
						Value: overwriteBody(si.buf),
					},
				},
			},
			"status": &objects.UserFunction{
				Value: setStatusCode(si.statusCode),
			},
			"header": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"set": &objects.UserFunction{
						Value: setHeader(si.respWriter),
					},
				},
			},
			"cookies": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"set": &objects.UserFunction{
						Value: setCookie(si.respWriter),
					},
				},
			},
		},
	}
}

func requestObject(r *http.Request) objects.Object {
	return &objects.ImmutableMap{
		Value: map[string]objects.Object{
			"method": &objects.String{
				Value: r.Method,
			},
			"full_uri": &objects.String{
				Value: r.RequestURI,
			},
			"path": &objects.String{
				Value: r.URL.Path,
			},
			"scheme": &objects.String{
				Value: r.URL.Scheme,
			},
			"host": &objects.String{
				Value: r.URL.Host,
			},
			"ip": &objects.String{
				Value: r.RemoteAddr,
			},
			"proto": &objects.String{
				Value: r.Proto,
			},
			"body": &objects.UserFunction{
				Value: getBody(r),
			},
			"get": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"keys": &objects.UserFunction{
						Value: paramKeys(func() url.Values { return r.URL.Query() }),
					},
					"param": &objects.UserFunction{
						Value: paramLookup(func(key string) string { return r.URL.Query().Get(key) }),
					},
				},
			},
			"post": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"keys": &objects.UserFunction{
						Value: paramKeys(func() url.Values { return r.PostForm }),
					},
					"param": &objects.UserFunction{
						Value: paramLookup(r.FormValue),
					},
				},
			},
			"header": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"keys": &objects.UserFunction{
						Value: headerKeys(r),
					},
					"param": &objects.UserFunction{
						Value: paramLookup(r.Header.Get),
					},
				},
			},
			"cookies": &objects.ImmutableMap{
				Value: map[string]objects.Object{
					"all": &objects.UserFunction{
						Value: getCookies(r),
					},
					"param": &objects.UserFunction{
						Value: getCookie(r),
					},
				},
			},
		},
	}
}
