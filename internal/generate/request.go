package generate

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/id"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	id_translations "github.com/go-playground/validator/v10/translations/id"
	"github.com/oogiv/oogiv-web/internal/models"
)

// Material types of a generation request.
const (
	MaterialFile    = "file"
	MaterialYouTube = "youtube"
)

// Request is a question generation request.
type Request struct {
	QuestionType models.QuestionType `json:"questionType" validate:"required,oneof=pg essay"`
	MaterialType string              `json:"materialType" validate:"required,oneof=file youtube"`
	YouTubeURL   string              `json:"youtubeUrl" validate:"required_if=MaterialType youtube"`
	Files        []models.File       `json:"-"`
	Subject      string              `json:"subject" validate:"notblank"`
	Level        string              `json:"level" validate:"required,oneof=easy medium hard"`
	Count        int                 `json:"count" validate:"gte=1,lte=50"`
}

// ValidationError reports the invalid fields of a Request. Message is the first problem, in the
// order the form presents the fields.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid generation request: " + e.Message
}

const notBlankTag = "notblank"

// fieldOrder is the order in which problems are reported.
var fieldOrder = []string{"questionType", "materialType", "youtubeUrl", "files", "subject", "level", "count"}

var fieldMessages = map[string]string{
	"questionType": "Silakan pilih tipe soal terlebih dahulu",
	"materialType": "Silakan pilih jenis materi",
	"youtubeUrl":   "Silakan masukkan URL YouTube",
	"files":        "Silakan upload file materi",
	"subject":      "Silakan masukkan nama pelajaran",
	"level":        "Silakan masukan tingkat kesulitan soal",
	"count.gte":    "Silakan masukkan jumlah soal yang valid",
	"count.lte":    "Jumlah soal maksimal 50",
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	idLocale := id.New()
	uni := ut.New(idLocale, idLocale)
	translator, _ = uni.GetTranslator("id")
	_ = id_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	validate.RegisterStructValidation(requestStructValidation, Request{})
}

// requestStructValidation requires files for file material.
func requestStructValidation(sl validator.StructLevel) {
	r, ok := sl.Current().Interface().(Request)
	if !ok {
		return
	}
	if r.MaterialType == MaterialFile && len(r.Files) == 0 {
		sl.ReportError(r.Files, "files", "Files", "required", "")
	}
}

// Normalize trims the text fields and lowercases the enumerations, which the form sends
// capitalized.
func (r *Request) Normalize() {
	r.Subject = strings.TrimSpace(r.Subject)
	r.YouTubeURL = strings.TrimSpace(r.YouTubeURL)
	r.QuestionType = models.QuestionType(strings.ToLower(strings.TrimSpace(string(r.QuestionType))))
	r.MaterialType = strings.ToLower(strings.TrimSpace(r.MaterialType))
	r.Level = strings.ToLower(strings.TrimSpace(r.Level))
}

// Validate checks the request. It returns a *ValidationError when a field is invalid.
func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
	first := len(fieldOrder)
	for _, fe := range verrs {
		field := fe.Field()
		msg, ok := fieldMessages[field+"."+fe.Tag()]
		if !ok {
			msg, ok = fieldMessages[field]
		}
		if !ok {
			msg = fe.Translate(translator)
		}
		ve.Fields[field] = msg

		if i := slices.Index(fieldOrder, field); i >= 0 && i < first {
			first = i
			ve.Message = msg
		}
		if ve.Message == "" {
			ve.Message = msg
		}
	}
	return ve
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
