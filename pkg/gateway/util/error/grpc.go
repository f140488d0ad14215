/*
Copyright 2018 Netflix, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package error

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCStatus converts a gateway error into the gRPC status surfaced by the
// transport layer. Unrecognized errors map to codes.Unknown.
func GRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}

	switch CanonicalCode(err) {
	case BadRequest, PageNotSpecified, InvalidContainerResources, IllegalTransition:
		return status.New(codes.InvalidArgument, err.Error())
	case JobNotFound, TaskNotFound:
		return status.New(codes.NotFound, err.Error())
	case EngineUnavailable:
		return status.New(codes.FailedPrecondition, err.Error())
	case Unimplemented:
		return status.New(codes.Unimplemented, err.Error())
	case Internal:
		return status.New(codes.Internal, err.Error())
	default:
		return status.New(codes.Unknown, err.Error())
	}
}
