package azure

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/types"
)

const loggedInAccount = `{
  "name": "Pay-As-You-Go",
  "isDefault": true,
  "user": {"name": "operator@example.com"}
}`

func okResult(stdout string) *exec.Result {
	return &exec.Result{Stdout: stdout}
}

func failResult(code int) *exec.Result {
	return &exec.Result{ExitCode: code, Stderr: "az failed"}
}

var _ = Describe("Azure client", func() {
	var runner *fakeRunner
	var client *Client
	ctx := context.Background()

	BeforeEach(func() {
		runner = newFakeRunner()
		client = NewClient(runner)
	})

	Describe("VerifyAccess", func() {
		It("should accept a logged-in account with a default subscription", func() {
			runner.respond("az account show", okResult(loggedInAccount))
			Expect(client.VerifyAccess(ctx)).To(Succeed())
		})

		It("should name the missing CLI", func() {
			runner.respond("az version", failResult(127))
			err := client.VerifyAccess(ctx)
			var serr *SetupError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Reason).To(ContainSubstring("not installed"))
		})

		It("should require a login", func() {
			runner.respond("az account show", failResult(1))
			err := client.VerifyAccess(ctx)
			var serr *SetupError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Reason).To(ContainSubstring("az login"))
		})

		It("should require a default subscription", func() {
			runner.respond("az account show", okResult(`{"name":"x","isDefault":false,"user":{"name":"y"}}`))
			err := client.VerifyAccess(ctx)
			var serr *SetupError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Reason).To(ContainSubstring("default subscription"))
		})
	})

	Describe("EnsureBootDiagnosticsStorage", func() {
		It("should create the shared group and account when missing", func() {
			runner.respond("az group exists", okResult("false\n"))
			runner.respond("az storage account show", failResult(3))

			account, err := client.EnsureBootDiagnosticsStorage(ctx, "westus2")
			Expect(err).NotTo(HaveOccurred())
			Expect(account).To(Equal("lisabootdiag"))
			Expect(runner.ran("az group create -n lisa-boot-diag")).To(BeTrue())
			Expect(runner.ran("az storage account create")).To(BeTrue())
		})

		It("should treat existing resources as success", func() {
			runner.respond("az group exists", okResult("true\n"))
			runner.respond("az storage account show", okResult("{}"))

			_, err := client.EnsureBootDiagnosticsStorage(ctx, "westus2")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.ran("az group create")).To(BeFalse())
			Expect(runner.ran("az storage account create")).To(BeFalse())
		})
	})

	Describe("Deploy", func() {
		stubStorage := func() {
			runner.respond("az group exists", okResult("true\n"))
			runner.respond("az storage account show", okResult("{}"))
		}

		It("should create a resource group and a VM inside it", func() {
			stubStorage()
			runner.respond("az vm create", okResult(`{"publicIpAddress":"203.0.113.9","powerState":"VM running"}`))

			host, desc, err := client.Deploy(ctx, "lisa-test", &types.DeploySpec{})
			Expect(err).NotTo(HaveOccurred())
			Expect(host).To(Equal("203.0.113.9"))
			Expect(desc["powerState"]).To(Equal("VM running"))
			Expect(runner.ran("az group create -n lisa-test-rg --location westus2")).To(BeTrue())
			Expect(runner.ran("az vm create -g lisa-test-rg -n lisa-test --image UbuntuLTS --size Standard_DS1_v2")).To(BeTrue())
		})

		It("should request accelerated networking for SRIOV", func() {
			stubStorage()
			runner.respond("az vm create", okResult(`{"publicIpAddress":"203.0.113.9"}`))

			_, _, err := client.Deploy(ctx, "lisa-test", &types.DeploySpec{Networking: types.NetworkingSRIOV})
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands[len(runner.commands)-1]).To(ContainSubstring("--accelerated-networking true"))
		})

		It("should fail with a ProvisionError on a CLI failure", func() {
			stubStorage()
			runner.respond("az vm create", failResult(1))

			_, _, err := client.Deploy(ctx, "lisa-test", &types.DeploySpec{})
			var perr *ProvisionError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Name).To(Equal("lisa-test"))
		})

		It("should reject deployment data without a public address", func() {
			stubStorage()
			runner.respond("az vm create", okResult(`{"location":"westus2"}`))

			_, _, err := client.Deploy(ctx, "lisa-test", &types.DeploySpec{})
			var perr *ProvisionError
			Expect(errors.As(err, &perr)).To(BeTrue())
		})
	})

	Describe("Destroy", func() {
		It("should delete the whole resource group without prompting", func() {
			runner.respond("az group delete", okResult(""))
			Expect(client.Destroy(ctx, "lisa-test")).To(Succeed())
			Expect(runner.ran("az group delete -n lisa-test-rg --yes")).To(BeTrue())
		})

		It("should report a failed deletion as a TeardownError", func() {
			runner.respond("az group delete", failResult(3))
			err := client.Destroy(ctx, "lisa-test")
			var terr *TeardownError
			Expect(errors.As(err, &terr)).To(BeTrue())
		})
	})
})
