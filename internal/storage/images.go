package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gosimple/slug"
	"github.com/jaevor/go-nanoid"
)

const MaxImageSize = 5 << 20

var (
	ErrEmptyFile       = errors.New("no file provided")
	ErrTooLarge        = fmt.Errorf("file exceeds %d MB", MaxImageSize>>20)
	ErrUnsupportedType = errors.New("unsupported file type, use JPEG, PNG or WebP")
)

// allowed maps accepted content types to their file extension.
var allowed = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// suffix generates the random part of object names, lowercase to match slugs.
var suffix = mustNanoID("0123456789abcdefghijklmnopqrstuvwxyz", 8)

func mustNanoID(alphabet string, n int) func() string {
	gen, err := nanoid.CustomASCII(alphabet, n)
	if err != nil {
		panic(err)
	}
	return gen
}

// Images validates uploads and stores them under unique names.
type Images struct {
	Store   ObjectStore
	BaseURL string
	now     func() time.Time
	id      func() string
}

func NewImages(store ObjectStore, baseURL string) *Images {
	return &Images{Store: store, BaseURL: strings.TrimRight(baseURL, "/"), now: time.Now, id: suffix}
}

// Upload checks both the declared type and the sniffed content, stores the
// file and returns its public URL.
func (i *Images) Upload(ctx context.Context, filename, declared string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if len(data) > MaxImageSize {
		return "", ErrTooLarge
	}
	if declared != "" {
		if _, ok := allowed[strings.ToLower(declared)]; !ok {
			return "", ErrUnsupportedType
		}
	}
	detected := mimetype.Detect(data).String()
	ext, ok := allowed[detected]
	if !ok {
		return "", ErrUnsupportedType
	}

	name := i.objectName(filename, ext)
	if err := i.Store.Put(ctx, Object{Name: name, ContentType: detected, Data: data}); err != nil {
		return "", err
	}
	return i.URL(name), nil
}

func (i *Images) objectName(filename, ext string) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	s := slug.Make(base)
	if s == "" {
		s = "image"
	}
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	return fmt.Sprintf("%d-%s-%s.%s", i.now().UnixMilli(), i.id(), s, ext)
}

func (i *Images) URL(name string) string {
	return i.BaseURL + "/images/" + name
}

func (i *Images) Open(ctx context.Context, name string) (Object, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return Object{}, ErrNotFound
	}
	return i.Store.Get(ctx, name)
}
