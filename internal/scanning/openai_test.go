package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/sashabaranov/go-openai"

	"github.com/zombor/bill-tracker/internal/settings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

var _ = Describe("OpenAI", func() {
	var (
		server    *ghttp.Server
		prov      settings.Map
		received  chatRequest
		authz     string
		reply     openai.ChatCompletionResponse
		status    int
		imageData []byte
		text      string
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		prov = settings.Map{settings.OpenAIModel: "gpt-4o"}
		received = chatRequest{}
		authz = ""
		status = http.StatusOK
		imageData = nil
		reply = openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "```\nPAID_AMOUNT=150000\n```"}},
			},
		}
		server.RouteToHandler(http.MethodPost, "/chat/completions", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			authz = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			Expect(json.Unmarshal(body, &received)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
				return
			}
			json.NewEncoder(w).Encode(reply)
		})
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		gen, newErr := NewOpenAI("sk-flag", "gpt-4o-mini", server.URL(), prov)
		Expect(newErr).NotTo(HaveOccurred())
		text, err = gen.Generate(context.Background(), imageData, "image/png", "read the amount", "OCR: Rp 150.000")
	})

	It("returns the cleaned reply", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("PAID_AMOUNT=150000"))
	})

	It("sends the model override, the system prompt and the user parts", func() {
		Expect(authz).To(Equal("Bearer sk-flag"))
		Expect(received.Model).To(Equal("gpt-4o"))
		Expect(received.Messages).To(HaveLen(2))
		Expect(received.Messages[0].Role).To(Equal("system"))
		Expect(received.Messages[1].Role).To(Equal("user"))
		Expect(string(received.Messages[1].Content)).To(ContainSubstring("read the amount"))
		Expect(string(received.Messages[1].Content)).To(ContainSubstring("OCR: Rp 150.000"))
		Expect(string(received.Messages[1].Content)).NotTo(ContainSubstring("image_url"))
	})

	When("an image is attached", func() {
		BeforeEach(func() {
			imageData = jpegBytes()
		})

		It("sends it as a PNG data URL", func() {
			Expect(string(received.Messages[1].Content)).To(ContainSubstring("data:image/png;base64,"))
		})
	})

	When("the API key is saved in settings", func() {
		BeforeEach(func() {
			prov[settings.OpenAIAPIKey] = "sk-settings"
		})

		It("uses it instead of the flag", func() {
			Expect(authz).To(Equal("Bearer sk-settings"))
		})
	})

	When("the reply has no choices", func() {
		BeforeEach(func() {
			reply = openai.ChatCompletionResponse{}
		})

		It("returns ErrEmptyResponse", func() {
			Expect(errors.Is(err, ErrEmptyResponse)).To(BeTrue())
		})
	})

	When("the reply is blank", func() {
		BeforeEach(func() {
			reply.Choices[0].Message.Content = "  "
		})

		It("returns ErrEmptyResponse", func() {
			Expect(errors.Is(err, ErrEmptyResponse)).To(BeTrue())
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			status = http.StatusInternalServerError
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("creating chat completion")))
		})
	})
})
