package types

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Intent resource types", func() {
	It("should parse a Deployment intent", func() {
		intentYaml := `
kind: Deployment
image: UbuntuLTS
size: Standard_DS1_v2
location: westus2
networking: SRIOV
`
		intent, err := Parse(strings.NewReader(intentYaml))
		Expect(err).NotTo(HaveOccurred())
		Expect(intent.Connect).To(BeNil())
		Expect(*intent.Deploy).To(Equal(DeploySpec{
			Kind:       "Deployment",
			Image:      "UbuntuLTS",
			Size:       "Standard_DS1_v2",
			Location:   "westus2",
			Networking: "SRIOV",
		}))
	})

	It("should parse a Connect intent", func() {
		intentYaml := `
kind: Connect
host: 203.0.113.5
`
		intent, err := Parse(strings.NewReader(intentYaml))
		Expect(err).NotTo(HaveOccurred())
		Expect(intent.Deploy).To(BeNil())
		Expect(intent.Connect.Host).To(Equal("203.0.113.5"))
	})

	It("should reject an intent declaring both Deployment and Connect", func() {
		intentYaml := `
kind: Deployment
image: UbuntuLTS
---
kind: Connect
host: 203.0.113.5
`
		_, err := Parse(strings.NewReader(intentYaml))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("mutually exclusive"))
	})

	It("should reject a Connect intent without a host", func() {
		_, err := Parse(strings.NewReader("kind: Connect\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown networking mode", func() {
		intentYaml := `
kind: Deployment
networking: Infiniband
`
		_, err := Parse(strings.NewReader(intentYaml))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown resource kind", func() {
		_, err := Parse(strings.NewReader("kind: Cluster\n"))
		Expect(err).To(HaveOccurred())
	})
})
