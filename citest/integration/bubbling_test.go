package integration_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type callResult struct {
	status int
	body   map[string]any
}

// startCall fires a gated tool call in the background and returns the
// channel its result lands on once the permission flow resolves.
func startCall(sessionID, tool, method, target string) <-chan callResult {
	done := make(chan callResult, 1)
	go func() {
		defer GinkgoRecover()
		status, body := apiJSON(http.MethodPost, "/tools/"+tool+"/call", map[string]any{
			"sessionID": sessionID,
			"method":    method,
			"arguments": map[string]any{"target": target},
		})
		done <- callResult{status: status, body: body}
	}()
	return done
}

func pendingPermissions(sessionID string) []any {
	GinkgoHelper()
	status, body := apiJSON(http.MethodGet, "/session/"+sessionID+"/permissions", nil)
	Expect(status).To(Equal(http.StatusOK))
	perms, _ := body["permissions"].([]any)
	return perms
}

var _ = Describe("Permission bubbling", func() {
	Describe("sub-session request answered at the root", func() {
		const (
			rootID  = "ses_ops_lead"
			childID = "ses_recon_agent"
		)

		It("registers the child under the root", func() {
			status, _ := apiJSON(http.MethodPost, "/session/"+rootID+"/children", map[string]any{
				"childID": childID,
			})
			Expect(status).To(Equal(http.StatusOK))

			status, body := apiJSON(http.MethodGet, "/session/"+rootID+"/children", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["children"]).To(ContainElement(childID))
		})

		It("bubbles the child's request into the root queue and resolves it", func() {
			done := startCall(childID, "scansim", "scan", "192.0.2.77")

			var permID string
			Eventually(func() []any {
				return pendingPermissions(rootID)
			}, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))

			perms := pendingPermissions(rootID)
			entry := perms[0].(map[string]any)
			permID = entry["id"].(string)
			Expect(entry["sessionID"]).To(Equal(rootID), "request should be owned by the root session")
			Expect(entry["sourceSessionID"]).To(Equal(childID), "origin should be preserved for display")

			// The child sees the same queue: both IDs resolve to the
			// single effective session.
			Expect(pendingPermissions(childID)).To(HaveLen(1))

			status, _ := apiJSON(http.MethodPost, "/session/"+rootID+"/permissions/"+permID, map[string]any{
				"response": "always",
			})
			Expect(status).To(Equal(http.StatusOK))

			var result callResult
			Eventually(done, 5*time.Second).Should(Receive(&result))
			Expect(result.status).To(Equal(http.StatusOK))
			Expect(result.body["output"]).To(ContainSubstring("Scan report for 192.0.2.77"))
		})

		It("skips the prompt for calls covered by the standing approval", func() {
			done := startCall(childID, "scansim", "scan", "192.0.2.78")

			var result callResult
			Eventually(done, 5*time.Second).Should(Receive(&result))
			Expect(result.status).To(Equal(http.StatusOK))
			Expect(result.body["output"]).To(ContainSubstring("Scan report for 192.0.2.78"))
			Expect(pendingPermissions(rootID)).To(BeEmpty())
		})

		It("records the approval against the root session", func() {
			status, body := apiJSON(http.MethodGet, "/session/"+rootID+"/approvals", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["approvals"]).To(ContainElement("mcp:scansim:scan"))
		})

		It("journals the decision under the root session", func() {
			Eventually(func() []any {
				status, body := apiJSON(http.MethodGet, "/session/"+rootID+"/journal", nil)
				Expect(status).To(Equal(http.StatusOK))
				records, _ := body["records"].([]any)
				return records
			}, 5*time.Second, 50*time.Millisecond).ShouldNot(BeEmpty())
		})
	})

	Describe("rejection", func() {
		const (
			rootID  = "ses_cautious_lead"
			childID = "ses_cautious_agent"
		)

		It("propagates a rejection to the caller as 403", func() {
			status, _ := apiJSON(http.MethodPost, "/session/"+rootID+"/children", map[string]any{
				"childID": childID,
			})
			Expect(status).To(Equal(http.StatusOK))

			done := startCall(childID, "scansim", "ping", "192.0.2.200")

			Eventually(func() []any {
				return pendingPermissions(rootID)
			}, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))

			perms := pendingPermissions(rootID)
			permID := perms[0].(map[string]any)["id"].(string)

			status, _ = apiJSON(http.MethodPost, "/session/"+rootID+"/permissions/"+permID, map[string]any{
				"response": "reject",
			})
			Expect(status).To(Equal(http.StatusOK))

			var result callResult
			Eventually(done, 5*time.Second).Should(Receive(&result))
			Expect(result.status).To(Equal(http.StatusForbidden))

			// A rejection is once-only: nothing is remembered against
			// the session.
			status, body := apiJSON(http.MethodGet, "/session/"+rootID+"/approvals", nil)
			Expect(status).To(Equal(http.StatusOK))
			// An empty approvals list marshals as JSON null; coerce so the
			// matcher sees a slice either way.
			approvals, _ := body["approvals"].([]any)
			Expect(approvals).NotTo(ContainElement("mcp:scansim:ping"))
		})
	})
})
