package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		imageData []byte
		raw       invoice.Raw
		err       error
		received  ollamaChatRequest
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		imageData = testPNG(16, 16)
		received = ollamaChatRequest{}

		var newErr error
		extractor, newErr = NewOllama(server.URL(), "qwen2.5vl:7b", DefaultMaxImageDimension)
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		raw, err = extractor.Extract(context.Background(), imageData, "image/png")
	})

	When("ollama answers with invoice JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Done: true,
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `{"invoice_number": "51109338", "summary": {"total": "$ 1 234,50"}}`,
					},
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the parsed payload", func() {
			Expect(raw).To(HaveKeyWithValue("invoice_number", "51109338"))
			Expect(raw).To(HaveKey("summary"))
		})

		It("sends the model and a non-streaming request", func() {
			Expect(received.Model).To(Equal("qwen2.5vl:7b"))
			Expect(received.Stream).To(BeFalse())
			Expect(received.Format).To(Equal("json"))
		})

		It("attaches the image to the user message", func() {
			Expect(received.Messages).To(HaveLen(2))
			Expect(received.Messages[0].Role).To(Equal("system"))
			Expect(received.Messages[1].Role).To(Equal("user"))
			Expect(received.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(imageData)))
		})
	})

	When("ollama returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the status and body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the model answers without JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Done:    true,
				Message: ollamaMessage{Role: "assistant", Content: "I can't read this."},
			}))
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing extraction")))
		})
	})

	When("the image cannot be decoded", func() {
		BeforeEach(func() {
			imageData = []byte("not an image at all")
		})

		JustBeforeEach(func() {
			raw, err = extractor.Extract(context.Background(), imageData, "image/jpeg")
		})

		It("fails before calling ollama", func() {
			Expect(err).To(HaveOccurred())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("prepareImageData", func() {
	It("passes a small PNG through unchanged", func() {
		data := testPNG(10, 20)
		out, converted, err := prepareImageData(data, "image/png", 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeFalse())
		Expect(out).To(Equal(data))
	})

	It("shrinks an oversized PNG to the maximum dimension", func() {
		out, converted, err := prepareImageData(testPNG(200, 100), "image/png", 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeTrue())

		cfg, err := png.DecodeConfig(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Width).To(Equal(50))
		Expect(cfg.Height).To(Equal(25))
	})

	It("rejects data it cannot decode", func() {
		_, _, err := prepareImageData([]byte("garbage"), "image/jpeg", 50)
		Expect(err).To(MatchError(ContainSubstring("converting image to PNG")))
	})

	It("recognises HEIC by mime type", func() {
		Expect(isHEICMimeType("image/HEIC")).To(BeTrue())
		Expect(isHEICMimeType("image/png")).To(BeFalse())
	})
})
